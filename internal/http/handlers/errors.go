package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/apperr"
	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/middleware"
)

// writeError maps a service error to its HTTP status. Internal errors are
// logged and hidden from the caller.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	kind := apperr.KindOf(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	msg := err.Error()
	if kind == apperr.Internal {
		log.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = "internal error"
	}
	return c.Status(kind.HTTPStatus()).JSON(dto.ErrorResponse{Error: msg, Kind: kind.String(), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Kind: apperr.Validation.String()})
}

func parseID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}
