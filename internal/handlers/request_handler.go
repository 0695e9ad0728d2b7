package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
)

type RequestHandler struct {
	DB       *gorm.DB
	Validate *validator.Validate
	Log      zerolog.Logger
}

func NewRequestHandler(db *gorm.DB, log zerolog.Logger) *RequestHandler {
	return &RequestHandler{
		DB:       db,
		Validate: validator.New(),
		Log:      log.With().Str("component", "request-handler").Logger(),
	}
}

type createRequestRequest struct {
	Title       string `json:"title" validate:"required,max=140"`
	Description string `json:"description" validate:"max=4000"`
	Category    string `json:"category" validate:"required,max=60"`
	City        string `json:"city" validate:"max=80"`
}

// CreateRequest posts a new job a client needs done.
func (h *RequestHandler) CreateRequest(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var req createRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}
	if err := h.Validate.Struct(req); err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, err.Error()))
	}

	serviceReq := models.ServiceRequest{
		ID:          uuid.New(),
		ClientID:    userUUID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		City:        req.City,
		Status:      models.RequestStatusOpen,
	}
	if err := h.DB.Create(&serviceReq).Error; err != nil {
		h.Log.Error().Err(err).Msg("create service request")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to create request"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": serviceReq})
}

// ListRequests returns open requests, optionally filtered by category and
// city. Professionals browse this to pick jobs to negotiate on.
func (h *RequestHandler) ListRequests(c *fiber.Ctx) error {
	q := h.DB.Model(&models.ServiceRequest{}).
		Where("status = ?", models.RequestStatusOpen).
		Order("created_at DESC")

	if category := c.Query("category"); category != "" {
		q = q.Where("category = ?", category)
	}
	if city := c.Query("city"); city != "" {
		q = q.Where("city = ?", city)
	}

	var list []models.ServiceRequest
	if err := q.Limit(100).Find(&list).Error; err != nil {
		h.Log.Error().Err(err).Msg("list service requests")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch requests"})
	}

	return c.JSON(fiber.Map{"success": true, "data": list})
}

// MyRequests returns the caller's own postings regardless of status.
func (h *RequestHandler) MyRequests(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var list []models.ServiceRequest
	if err := h.DB.
		Where("client_id = ?", userUUID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		h.Log.Error().Err(err).Msg("list own service requests")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch requests"})
	}

	return c.JSON(fiber.Map{"success": true, "data": list})
}

// GetRequest returns one request by id.
func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	reqUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, "invalid request id"))
	}

	var serviceReq models.ServiceRequest
	if err := h.DB.Preload("Client").First(&serviceReq, "id = ?", reqUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Respond(c, apperr.New(apperr.CodeRequestNotFound, "service request not found"))
		}
		h.Log.Error().Err(err).Msg("fetch service request")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch request"})
	}

	return c.JSON(fiber.Map{"success": true, "data": serviceReq})
}

// CloseRequest lets the owning client stop accepting new conversations.
func (h *RequestHandler) CloseRequest(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	reqUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, "invalid request id"))
	}

	res := h.DB.Model(&models.ServiceRequest{}).
		Where("id = ? AND client_id = ?", reqUUID, userUUID).
		Update("status", models.RequestStatusClosed)
	if res.Error != nil {
		h.Log.Error().Err(res.Error).Msg("close service request")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to close request"})
	}
	if res.RowsAffected == 0 {
		return apperr.Respond(c, apperr.New(apperr.CodeRequestNotFound, "service request not found"))
	}

	return c.JSON(fiber.Map{"success": true})
}
