package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/pkg/logger"
)

// StorageProbe is a configured remote backend. With none, the service runs
// on local files and there is nothing to probe.
type StorageProbe interface {
	Name() string
	HealthCheck(ctx context.Context) error
	Degraded() bool
}

type HealthHandler struct {
	store string
	probe StorageProbe
}

func NewHealthHandler(store string, probe StorageProbe) *HealthHandler {
	return &HealthHandler{store: store, probe: probe}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// StorageHealth runs the live write/read/delete probe.
func (h *HealthHandler) StorageHealth(c *fiber.Ctx) error {
	if h.probe == nil {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"backend": h.store,
			"probed":  false,
		})
	}

	start := time.Now()
	if err := h.probe.HealthCheck(c.Context()); err != nil {
		logger.Warn("Storage health check failed", zap.String("backend", h.probe.Name()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "unhealthy",
			"backend":  h.probe.Name(),
			"degraded": h.probe.Degraded(),
			"error":    err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":     "healthy",
		"backend":    h.probe.Name(),
		"probed":     true,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
