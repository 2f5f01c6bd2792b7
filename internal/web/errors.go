package web

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"dupescope/internal/models"
)

// Error is the JSON error body returned by every failing endpoint.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

// ValidationError carries per-field messages for rejected request bodies.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return fiber.StatusNotFound
	case "permission_denied":
		return fiber.StatusForbidden
	case "invalid_input":
		return fiber.StatusBadRequest
	case "conflict":
		return fiber.StatusConflict
	case "backend_unavailable":
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler maps sentinel error kinds onto HTTP statuses and keeps the
// response body machine-readable.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if apiErr, ok := err.(Error); ok {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	if valErr, ok := err.(ValidationError); ok {
		return c.Status(valErr.Status).JSON(valErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(Error{
			Code:    fiberErr.Code,
			Kind:    "internal",
			Message: fiberErr.Message,
		})
	}

	kind := models.ErrorKind(err)
	code := statusForKind(kind)
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "kind", kind, "error", err)
	}
	return c.Status(code).JSON(Error{
		Code:    code,
		Kind:    kind,
		Message: err.Error(),
	})
}
