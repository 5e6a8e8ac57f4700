package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuth:
		return fiber.StatusUnauthorized
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindAuthorization:
		return fiber.StatusForbidden
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindDelivery:
		return fiber.StatusBadGateway
	}
	return fiber.StatusServiceUnavailable
}

// writeError renders {"error", "kind"}; auth failures also carry the reason.
func writeError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	body := fiber.Map{"error": err.Error(), "kind": kind}
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		body["error"] = ae.Message
		if ae.Reason != "" {
			body["reason"] = ae.Reason
		}
	}
	if kind == apperr.KindUnavailable {
		body["error"] = "service temporarily unavailable"
	}
	return c.Status(statusFor(kind)).JSON(body)
}

// fiberError keeps fiber's own errors (404 route, 426 upgrade) in the same shape.
func (s *Server) fiberError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": "http"})
	}
	if apperr.KindOf(err) == apperr.KindUnavailable {
		s.log.Errorw("request failed", "path", c.Path(), "error", err)
	}
	return writeError(c, err)
}

func badRequest(msg string) error { return apperr.Validation(msg) }
