package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/aggregation"
	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/internal/storage/repository"
	"github.com/culture-survey/backend/pkg/logger"
)

// respondError maps core errors to HTTP responses. A session without answers
// is not a failure: it answers 200 with no_data set.
func respondError(c *fiber.Ctx, action string, err error) error {
	switch {
	case errors.Is(err, aggregation.ErrNoData):
		return c.JSON(fiber.Map{
			"no_data": true,
			"message": "No responses recorded yet",
		})
	case errors.Is(err, aggregation.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	case errors.Is(err, aggregation.ErrProfileNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Respondent not found"})
	case errors.Is(err, repository.ErrInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, kv.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Concurrent modification, please retry"})
	case errors.Is(err, kv.ErrStorageUnavailable), errors.Is(err, kv.ErrNotConfigured):
		logger.Error("Storage unavailable", zap.String("action", action), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage temporarily unavailable"})
	default:
		logger.Error("Request failed", zap.String("action", action), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to " + action})
	}
}
