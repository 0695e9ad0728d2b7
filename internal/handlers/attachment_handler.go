package handlers

import (
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/services/storage"
)

type AttachmentHandler struct {
	DB       *gorm.DB
	Signer   *storage.Signer
	MaxBytes int64
	Log      zerolog.Logger
}

func NewAttachmentHandler(db *gorm.DB, signer *storage.Signer, maxBytes int64, log zerolog.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		DB:       db,
		Signer:   signer,
		MaxBytes: maxBytes,
		Log:      log.With().Str("component", "attachment-handler").Logger(),
	}
}

// Content is sniffed, not trusted from the upload's declared type.
var allowedMIME = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Upload stores a chat attachment under the conversation's key prefix and
// returns the key plus a short-lived signed URL for immediate display.
func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "file is required"})
	}
	if fileHeader.Size > h.MaxBytes {
		return apperr.Respond(c, apperr.New(apperr.CodeFileTooLarge, "attachment exceeds the size limit"))
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "cannot read file"})
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, h.MaxBytes+1))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "cannot read file"})
	}
	if int64(len(body)) > h.MaxBytes {
		return apperr.Respond(c, apperr.New(apperr.CodeFileTooLarge, "attachment exceeds the size limit"))
	}

	mime := mimetype.Detect(body)
	ext, ok := allowedMIME[mime.String()]
	if !ok {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, "unsupported attachment type: "+mime.String()))
	}

	key := storage.KeyPrefix(conv.ID) + uuid.New().String() + ext
	if err := h.Signer.Upload(c.UserContext(), key, body, mime.String()); err != nil {
		if apperr.CodeOf(err) != "" {
			return apperr.Respond(c, err)
		}
		h.Log.Error().Err(err).Str("key", key).Msg("attachment upload failed")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to store attachment"})
	}

	url, err := h.Signer.ResolveSignedURL(c.UserContext(), conv.ID, key)
	if err != nil {
		h.Log.Error().Err(err).Str("key", key).Msg("presign after upload failed")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to sign attachment URL"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"key": key, "url": url},
	})
}

// ResolveURL re-issues a signed URL for an existing attachment key. Keys
// outside the conversation's prefix are rejected before any signing happens.
func (h *AttachmentHandler) ResolveURL(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	key := c.Query("key")
	url, err := h.Signer.ResolveSignedURL(c.UserContext(), conv.ID, key)
	if err != nil {
		if apperr.CodeOf(err) != "" {
			return apperr.Respond(c, err)
		}
		h.Log.Error().Err(err).Str("key", key).Msg("presign failed")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to sign attachment URL"})
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"url": url}})
}
