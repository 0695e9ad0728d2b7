package handlers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/contentsafety"
	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/realtime"
	"github.com/chambalink/backend/internal/services/notify"
	"github.com/chambalink/backend/internal/services/storage"
	"github.com/chambalink/backend/internal/utils"
)

type ChatHandler struct {
	DB        *gorm.DB
	Hub       *realtime.Hub
	Broker    *realtime.Broker
	Scanner   *contentsafety.Scanner
	Notifier  *notify.Publisher
	JWTSecret string
	Log       zerolog.Logger
}

func NewChatHandler(db *gorm.DB, hub *realtime.Hub, broker *realtime.Broker, scanner *contentsafety.Scanner, notifier *notify.Publisher, jwtSecret string, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		DB:        db,
		Hub:       hub,
		Broker:    broker,
		Scanner:   scanner,
		Notifier:  notifier,
		JWTSecret: jwtSecret,
		Log:       log.With().Str("component", "chat-handler").Logger(),
	}
}

// EnsureConversation resolves the single conversation for a
// (request, client, professional) triple, creating it if needed. A
// professional opens it against the request; a client reopens it by naming
// the professional. Concurrent calls race on the unique index and both end
// up with the same row.
func (h *ChatHandler) EnsureConversation(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	role, _ := c.Locals("role").(string)

	var req struct {
		RequestID      string  `json:"request_id"`
		ProfessionalID *string `json:"professional_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}

	requestUUID, err := uuid.Parse(req.RequestID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request_id"})
	}

	var serviceReq models.ServiceRequest
	if err := h.DB.First(&serviceReq, "id = ?", requestUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Respond(c, apperr.New(apperr.CodeRequestNotFound, "service request not found"))
		}
		h.Log.Error().Err(err).Msg("fetch service request")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch request"})
	}

	var clientID, professionalID uuid.UUID
	switch role {
	case string(models.RoleProfessional):
		clientID = serviceReq.ClientID
		professionalID = userUUID
	default:
		if serviceReq.ClientID != userUUID {
			return apperr.Respond(c, apperr.New(apperr.CodeForbidden, "request belongs to another client"))
		}
		if req.ProfessionalID == nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "message": "professional_id is required"})
		}
		professionalID, err = uuid.Parse(*req.ProfessionalID)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid professional_id"})
		}
		clientID = userUUID
	}

	if clientID == professionalID {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Cannot open a conversation with yourself"})
	}

	conv := models.Conversation{
		RequestID:      requestUUID,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		LastActivityAt: time.Now(),
	}
	res := h.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}, {Name: "client_id"}, {Name: "professional_id"}},
		DoNothing: true,
	}).Create(&conv)
	if res.Error != nil {
		h.Log.Error().Err(res.Error).Msg("ensure conversation")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to create conversation"})
	}
	created := res.RowsAffected == 1

	if !created {
		if err := h.DB.
			Where("request_id = ? AND client_id = ? AND professional_id = ?", requestUUID, clientID, professionalID).
			First(&conv).Error; err != nil {
			h.Log.Error().Err(err).Msg("reload conversation after conflict")
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversation"})
		}
	}

	return c.JSON(fiber.Map{"success": true, "created": created, "data": conv})
}

type UserMini struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type ConversationOut struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id"`
	ClientID       string    `json:"client_id"`
	ProfessionalID string    `json:"professional_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int64     `json:"unread_count"`

	RequestTitle      string          `json:"request_title,omitempty"`
	Client            *UserMini       `json:"client,omitempty"`
	Professional      *UserMini       `json:"professional,omitempty"`
	LastMessage       *models.Message `json:"last_message,omitempty"`
	LatestOfferStatus *string         `json:"latest_offer_status,omitempty"`
}

func userMini(u *models.User) *UserMini {
	if u == nil {
		return nil
	}
	return &UserMini{ID: u.ID.String(), Name: u.Name, Role: string(u.Role)}
}

// GetConversations lists the caller's conversations, most recent activity
// first, each decorated with its unread count, last message and the status
// of the newest offer.
func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var convs []models.Conversation
	if err := h.DB.
		Preload("Request").
		Preload("Client").
		Preload("Professional").
		Where("client_id = ? OR professional_id = ?", userUUID, userUUID).
		Order("last_activity_at DESC").
		Find(&convs).Error; err != nil {
		h.Log.Error().Err(err).Msg("fetch conversations")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversations"})
	}

	convIDs := lo.Map(convs, func(conv models.Conversation, _ int) uuid.UUID { return conv.ID })

	unread, err := h.unreadByConversation(convIDs, userUUID)
	if err != nil {
		h.Log.Error().Err(err).Msg("count unread per conversation")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversations"})
	}
	lastMessages, err := h.lastMessageByConversation(convIDs)
	if err != nil {
		h.Log.Error().Err(err).Msg("fetch last messages")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversations"})
	}
	latestOffers, err := h.latestOfferStatusByConversation(convIDs)
	if err != nil {
		h.Log.Error().Err(err).Msg("fetch latest offers")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversations"})
	}

	out := assembleConversationList(convs, unread, lastMessages, latestOffers)
	return c.JSON(fiber.Map{"success": true, "data": out})
}

func (h *ChatHandler) unreadByConversation(convIDs []uuid.UUID, userUUID uuid.UUID) (map[uuid.UUID]int64, error) {
	if len(convIDs) == 0 {
		return map[uuid.UUID]int64{}, nil
	}

	var rows []struct {
		ConversationID uuid.UUID
		Total          int64
	}
	err := h.DB.Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS total").
		Where("conversation_id IN ? AND sender_id != ? AND is_read = false", convIDs, userUUID).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.Total
	}
	return out, nil
}

func (h *ChatHandler) lastMessageByConversation(convIDs []uuid.UUID) (map[uuid.UUID]*models.Message, error) {
	if len(convIDs) == 0 {
		return map[uuid.UUID]*models.Message{}, nil
	}

	var msgs []models.Message
	err := h.DB.
		Raw(`SELECT DISTINCT ON (conversation_id) *
		     FROM messages
		     WHERE conversation_id IN ?
		     ORDER BY conversation_id, created_at DESC, id DESC`, convIDs).
		Scan(&msgs).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*models.Message, len(msgs))
	for i := range msgs {
		out[msgs[i].ConversationID] = &msgs[i]
	}
	return out, nil
}

func (h *ChatHandler) latestOfferStatusByConversation(convIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(convIDs) == 0 {
		return map[uuid.UUID]string{}, nil
	}

	var rows []struct {
		ConversationID uuid.UUID
		Status         string
	}
	err := h.DB.
		Raw(`SELECT DISTINCT ON (conversation_id) conversation_id, status
		     FROM offers
		     WHERE conversation_id IN ?
		     ORDER BY conversation_id, created_at DESC`, convIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]string, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.Status
	}
	return out, nil
}

func assembleConversationList(convs []models.Conversation, unread map[uuid.UUID]int64, lastMessages map[uuid.UUID]*models.Message, latestOffers map[uuid.UUID]string) []ConversationOut {
	return lo.Map(convs, func(conv models.Conversation, _ int) ConversationOut {
		item := ConversationOut{
			ID:             conv.ID.String(),
			RequestID:      conv.RequestID.String(),
			ClientID:       conv.ClientID.String(),
			ProfessionalID: conv.ProfessionalID.String(),
			LastActivityAt: conv.LastActivityAt,
			UnreadCount:    unread[conv.ID],
			Client:         userMini(conv.Client),
			Professional:   userMini(conv.Professional),
			LastMessage:    lastMessages[conv.ID],
		}
		if status, ok := latestOffers[conv.ID]; ok {
			item.LatestOfferStatus = &status
		}
		if conv.Request != nil {
			item.RequestTitle = conv.Request.Title
		}
		return item
	})
}

// GetUnreadTotal returns the caller's unread message count across every
// conversation they take part in.
func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var count int64
	err = h.DB.Model(&models.Message{}).
		Joins("JOIN conversations ON messages.conversation_id = conversations.id").
		Where("(conversations.client_id = ? OR conversations.professional_id = ?) AND messages.sender_id != ? AND messages.is_read = false",
			userUUID, userUUID, userUUID).
		Count(&count).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to count unread messages"})
	}

	return c.JSON(fiber.Map{"success": true, "data": count})
}

// GetMessages returns the conversation history in insertion order and marks
// the counterpart's messages as read.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	var messages []models.Message
	if err := h.DB.
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		h.Log.Error().Err(err).Msg("fetch messages")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch messages"})
	}

	h.markRead(conv, userUUID)

	return c.JSON(fiber.Map{"success": true, "data": messages})
}

// MarkAsRead flips the read flag on counterpart messages without fetching
// the history.
func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	h.markRead(conv, userUUID)
	return c.JSON(fiber.Map{"success": true})
}

// markRead is best effort: a failed update here never fails the request.
// Flipped messages are re-published so the sender's open clients refresh
// their read receipts.
func (h *ChatHandler) markRead(conv *models.Conversation, userUUID uuid.UUID) {
	var unread []models.Message
	if err := h.DB.
		Where("conversation_id = ? AND sender_id != ? AND is_read = false", conv.ID, userUUID).
		Find(&unread).Error; err != nil {
		h.Log.Error().Err(err).Msg("scan unread messages")
		return
	}
	if len(unread) == 0 {
		return
	}

	now := time.Now()
	ids := lo.Map(unread, func(m models.Message, _ int) uuid.UUID { return m.ID })
	if err := h.DB.Model(&models.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
		h.Log.Error().Err(err).Msg("mark messages as read")
		return
	}

	for i := range unread {
		unread[i].IsRead = true
		unread[i].ReadAt = &now
		h.Broker.PublishMessageUpdate(conv.ClientID, conv.ProfessionalID, &unread[i])
	}
}

// SendMessage appends a text message. Outbound text passes through the
// contact-information gate first; under the block policy a message carrying
// contact details is rejected and nothing is persisted.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	var req struct {
		Text          string `json:"text"`
		AttachmentKey string `json:"attachment_key"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Text is required"})
	}

	text, findings, err := h.Scanner.Gate(req.Text)
	if err != nil {
		h.Log.Info().Int("findings", len(findings)).
			Str("conversation_id", conv.ID.String()).
			Msg("blocked message with contact details")
		return apperr.Respond(c, err)
	}

	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       userUUID,
		Kind:           models.MessageKindText,
		Body:           &text,
	}

	if key := strings.TrimSpace(req.AttachmentKey); key != "" {
		if err := storage.ValidateConversationKey(conv.ID, key); err != nil {
			return apperr.Respond(c, err)
		}
		payload, _ := json.Marshal(fiber.Map{"attachment_key": key})
		msg.Payload = datatypes.JSON(payload)
	}

	if err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("last_activity_at", msg.CreatedAt).Error
	}); err != nil {
		h.Log.Error().Err(err).Msg("create message")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to send message"})
	}

	h.Broker.PublishMessage(conv.ClientID, conv.ProfessionalID, &msg)
	h.Notifier.Notify(c.UserContext(), conv.Counterpart(userUUID), "chat_message", map[string]interface{}{
		"conversation_id": conv.ID.String(),
		"sender_id":       userUUID.String(),
	})

	return c.JSON(fiber.Map{"success": true, "data": msg})
}

// WebSocketHandler upgrades the realtime subscription. The connection
// authenticates with the same JWT as the REST surface, passed as a `token`
// query parameter because browsers cannot set headers on websocket dials.
func (h *ChatHandler) WebSocketHandler(c *websocket.Conn) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = c.Cookies("cl_token")
	}
	if tokenStr == "" {
		h.Log.Debug().Msg("websocket dial without token")
		c.Close()
		return
	}

	claims, err := utils.ParseJWT(h.JWTSecret, tokenStr)
	if err != nil {
		h.Log.Debug().Err(err).Msg("websocket dial with invalid token")
		c.Close()
		return
	}

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: claims.UserID,
		Send:   make(chan []byte, 256),
	}

	h.Hub.RegisterClient(client)
	defer h.Hub.UnregisterClient(client)

	go func() {
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Inbound traffic is ping/pong only; all mutations go through REST.
	for {
		var payload map[string]interface{}
		if err := c.ReadJSON(&payload); err != nil {
			break
		}
	}
}
