package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/storage/repository"
	"github.com/culture-survey/backend/pkg/logger"
)

type SessionDeleter interface {
	DeleteSession(ctx context.Context, id string) (bool, error)
}

type SessionHandler struct {
	sessions SessionDeleter
}

func NewSessionHandler(sessions SessionDeleter) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// DeleteSession removes a session and everything recorded under it. When some
// dependent rows could not be removed the session is still gone; the
// response says so instead of failing.
func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")

	deleted, err := h.sessions.DeleteSession(c.Context(), id)
	switch {
	case err != nil && deleted && errors.Is(err, repository.ErrPartialCascade):
		logger.Warn("Session deleted with leftovers", zap.String("session_id", id), zap.Error(err))
		return c.JSON(fiber.Map{
			"deleted":            true,
			"cascade_incomplete": true,
			"error":              err.Error(),
		})
	case err != nil:
		return respondError(c, "delete session", err)
	case !deleted:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	return c.JSON(fiber.Map{"deleted": true})
}
