package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Code identifies a rejection category surfaced to API clients.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRequestNotFound    Code = "REQUEST_NOT_FOUND"
	CodeInvalidStatus      Code = "INVALID_STATUS"
	CodeLocked             Code = "LOCKED"
	CodePersonalData       Code = "PERSONAL_DATA_BLOCKED"
	CodeInvalidStoragePath Code = "INVALID_STORAGE_PATH"
	CodeFileTooLarge       Code = "FILE_TOO_LARGE"
)

// Error is a domain error with a stable code. Meta carries extra values the
// caller may need to recover (e.g. a checkout URL obtained before a failed
// terminal write).
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithMeta(key, value string) *Error {
	if e.Meta == nil {
		e.Meta = map[string]string{}
	}
	e.Meta[key] = value
	return e
}

// CodeOf extracts the domain code from err, or empty if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is lets errors.Is match two apperr values by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

var statusByCode = map[Code]int{
	CodeValidation:         fiber.StatusBadRequest,
	CodeInvalidAmount:      fiber.StatusBadRequest,
	CodeUnauthorized:       fiber.StatusUnauthorized,
	CodeForbidden:          fiber.StatusForbidden,
	CodeNotFound:           fiber.StatusNotFound,
	CodeRequestNotFound:    fiber.StatusNotFound,
	CodeInvalidStatus:      fiber.StatusConflict,
	CodeLocked:             fiber.StatusConflict,
	CodePersonalData:       fiber.StatusUnprocessableEntity,
	CodeInvalidStoragePath: fiber.StatusBadRequest,
	CodeFileTooLarge:       fiber.StatusRequestEntityTooLarge,
}

// HTTPStatus maps a domain code to the status the handlers respond with.
// Unknown errors fall through to 500.
func HTTPStatus(err error) int {
	if s, ok := statusByCode[CodeOf(err)]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// Respond writes the standard error envelope for err.
func Respond(c *fiber.Ctx, err error) error {
	var e *Error
	if errors.As(err, &e) {
		body := fiber.Map{"success": false, "code": e.Code, "message": e.Message}
		if len(e.Meta) > 0 {
			body["meta"] = e.Meta
		}
		return c.Status(HTTPStatus(err)).JSON(body)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Internal server error",
	})
}
