package repository

import (
	"context"

	"github.com/culture-survey/backend/internal/storage/models"
)

// SaveSessionResults stores the snapshot, replacing any earlier one for the
// same session.
func (r *Repository) SaveSessionResults(ctx context.Context, results models.SessionResults) error {
	return r.Results.ReplaceWhere(ctx,
		func(res *models.SessionResults) bool { return res.SessionID == results.SessionID },
		[]models.SessionResults{results},
	)
}

func (r *Repository) GetSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error) {
	return r.Results.Get(ctx, sessionID)
}

// SaveDomainAnalysis replaces every domain row of the session with rows.
func (r *Repository) SaveDomainAnalysis(ctx context.Context, sessionID string, rows []models.DomainAnalysis) error {
	return r.DomainAnalyses.ReplaceWhere(ctx,
		func(d *models.DomainAnalysis) bool { return d.SessionID == sessionID },
		rows,
	)
}

func (r *Repository) ListDomainAnalysis(ctx context.Context, sessionID string) ([]models.DomainAnalysis, error) {
	return r.DomainAnalyses.List(ctx, func(d *models.DomainAnalysis) bool { return d.SessionID == sessionID })
}
