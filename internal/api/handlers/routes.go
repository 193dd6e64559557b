package handlers

import (
	"github.com/gofiber/fiber/v2"
)

type Routes struct {
	Health   *HealthHandler
	Results  *ResultsHandler
	Sessions *SessionHandler

	// ValidateIDs runs before every handler that takes an id.
	ValidateIDs fiber.Handler
	// LimitWrites runs before handlers that rewrite stored collections.
	LimitWrites fiber.Handler
}

func passthrough(c *fiber.Ctx) error { return c.Next() }

// Register mounts the API under router (normally the /api/v1 group).
func Register(router fiber.Router, r Routes) {
	validate, limit := r.ValidateIDs, r.LimitWrites
	if validate == nil {
		validate = passthrough
	}
	if limit == nil {
		limit = passthrough
	}

	router.Get("/health", r.Health.Health)
	router.Get("/health/storage", r.Health.StorageHealth)

	router.Get("/sessions/:id/results", validate, r.Results.GetSessionResults)
	router.Post("/sessions/:id/results", validate, limit, r.Results.RecomputeSessionResults)
	router.Post("/sessions/:id/domains", validate, limit, r.Results.RecomputeDomainAnalysis)
	router.Delete("/sessions/:id", validate, limit, r.Sessions.DeleteSession)

	router.Get("/respondents/:id/results", validate, r.Results.GetRespondentResults)
	router.Get("/comparisons", validate, r.Results.CompareSessions)
}
