package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/culture-survey/backend/internal/storage/models"
)

type ResultsService interface {
	ComputeSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error)
	GetOrComputeSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error)
	ComputeDomainAnalysis(ctx context.Context, sessionID string) ([]models.DomainAnalysis, error)
	ComputeRespondentResults(ctx context.Context, profileID string) (*models.RespondentResults, error)
}

type ComparisonService interface {
	CompareSessions(ctx context.Context, firstID, secondID string) (*models.SessionComparison, error)
}

type ResultsHandler struct {
	results    ResultsService
	comparison ComparisonService
}

func NewResultsHandler(results ResultsService, comparison ComparisonService) *ResultsHandler {
	return &ResultsHandler{
		results:    results,
		comparison: comparison,
	}
}

func (h *ResultsHandler) RecomputeSessionResults(c *fiber.Ctx) error {
	results, err := h.results.ComputeSessionResults(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, "compute session results", err)
	}
	return c.JSON(results)
}

func (h *ResultsHandler) GetSessionResults(c *fiber.Ctx) error {
	results, err := h.results.GetOrComputeSessionResults(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, "load session results", err)
	}
	return c.JSON(results)
}

func (h *ResultsHandler) RecomputeDomainAnalysis(c *fiber.Ctx) error {
	rows, err := h.results.ComputeDomainAnalysis(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, "compute domain analysis", err)
	}
	return c.JSON(fiber.Map{
		"session_id": c.Params("id"),
		"domains":    rows,
	})
}

func (h *ResultsHandler) GetRespondentResults(c *fiber.Ctx) error {
	results, err := h.results.ComputeRespondentResults(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, "compute respondent results", err)
	}
	return c.JSON(results)
}

func (h *ResultsHandler) CompareSessions(c *fiber.Ctx) error {
	first, second := c.Query("session1"), c.Query("session2")
	if first == "" || second == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session1 and session2 are required",
		})
	}

	comparison, err := h.comparison.CompareSessions(c.Context(), first, second)
	if err != nil {
		return respondError(c, "compare sessions", err)
	}
	return c.JSON(comparison)
}
