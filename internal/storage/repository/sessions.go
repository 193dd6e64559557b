package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
)

const shortURLLength = 8

type SessionInput struct {
	ClientID            string
	Name                string
	StartDate           time.Time
	EndDate             *time.Time
	IsActive            bool
	PlannedParticipants *int
}

// SessionPatch sets only the non-nil fields. ClearEndDate removes the end
// date and wins over EndDate. Frozen axes cannot be patched.
type SessionPatch struct {
	Name                *string
	StartDate           *time.Time
	EndDate             *time.Time
	ClearEndDate        bool
	IsActive            *bool
	PlannedParticipants *int
}

// CreateSession snapshots the client's applicable axes onto the session so
// later axis edits leave it untouched.
func (r *Repository) CreateSession(ctx context.Context, in SessionInput) (*models.QuestionnaireSession, error) {
	client, err := r.Clients.Get(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client %s does not exist", ErrInvalid, in.ClientID)
	}

	axes, err := r.ResolveClientAxes(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}

	start := in.StartDate
	if start.IsZero() {
		start = r.now()
	}

	session, err := r.Sessions.Create(ctx, models.QuestionnaireSession{
		ClientID:            in.ClientID,
		Name:                in.Name,
		StartDate:           start,
		EndDate:             in.EndDate,
		IsActive:            in.IsActive,
		PlannedParticipants: in.PlannedParticipants,
		FrozenAnalysisAxes:  axes,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("client_id", session.ClientID),
		zap.Int("frozen_axes", len(axes)),
	)
	return session, nil
}

// ResolveClientAxes returns the axes that apply to a client, ordered for
// display: its client-specific axes if it has any, otherwise the global axes
// enabled for it, otherwise every global axis.
func (r *Repository) ResolveClientAxes(ctx context.Context, clientID string) ([]models.AnalysisAxis, error) {
	specific, err := r.ClientSpecificAxes.List(ctx, func(a *models.ClientSpecificAxis) bool { return a.ClientID == clientID })
	if err != nil {
		return nil, err
	}

	axes := make([]models.AnalysisAxis, 0, len(specific))
	if len(specific) > 0 {
		for _, a := range specific {
			axes = append(axes, a.AnalysisAxis)
		}
	} else {
		global, err := r.Axes.List(ctx, nil)
		if err != nil {
			return nil, err
		}
		links, err := r.ClientAxes.List(ctx, func(a *models.ClientAnalysisAxis) bool { return a.ClientID == clientID })
		if err != nil {
			return nil, err
		}

		if len(links) == 0 {
			axes = append(axes, global...)
		} else {
			byAxis := make(map[string]models.ClientAnalysisAxis, len(links))
			for _, l := range links {
				byAxis[l.AxisID] = l
			}
			for _, a := range global {
				link, ok := byAxis[a.ID]
				if !ok || !link.Enabled {
					continue
				}
				if link.Order != nil {
					a.Order = *link.Order
				}
				axes = append(axes, a)
			}
		}
	}

	slices.SortStableFunc(axes, func(a, b models.AnalysisAxis) int { return cmp.Compare(a.Order, b.Order) })
	return axes, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*models.QuestionnaireSession, error) {
	return r.Sessions.Get(ctx, id)
}

func (r *Repository) FindSessionByShortURL(ctx context.Context, shortURL string) (*models.QuestionnaireSession, error) {
	return r.Sessions.Find(ctx, func(s *models.QuestionnaireSession) bool { return s.ShortURL == shortURL })
}

func (r *Repository) ListSessionsByClient(ctx context.Context, clientID string) ([]models.QuestionnaireSession, error) {
	return r.Sessions.List(ctx, func(s *models.QuestionnaireSession) bool { return s.ClientID == clientID })
}

func (r *Repository) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*models.QuestionnaireSession, error) {
	return r.Sessions.Update(ctx, id, func(s *models.QuestionnaireSession) error {
		if patch.Name != nil {
			s.Name = *patch.Name
		}
		if patch.StartDate != nil {
			s.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			s.EndDate = patch.EndDate
		}
		if patch.ClearEndDate {
			s.EndDate = nil
		}
		if patch.IsActive != nil {
			s.IsActive = *patch.IsActive
		}
		if patch.PlannedParticipants != nil {
			s.PlannedParticipants = patch.PlannedParticipants
		}
		if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
			return fmt.Errorf("%w: end date precedes start date", ErrInvalid)
		}
		s.UpdatedAt = r.now()
		return nil
	})
}

// DeleteSession removes the session's profiles, responses, results and
// domain analysis, then the session itself. Each step is its own collection
// write; a failed step does not stop the rest, and the failures come back
// joined under ErrPartialCascade.
func (r *Repository) DeleteSession(ctx context.Context, id string) (bool, error) {
	session, err := r.Sessions.Get(ctx, id)
	if err != nil || session == nil {
		return false, err
	}

	counts := make(map[string]int, 4)
	var errs error
	step := func(name string, n int, err error) {
		counts[name] = n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}

	n, err := r.Profiles.DeleteWhere(ctx, func(p *models.RespondentProfile) bool { return p.SessionID == id })
	step(KeyProfiles, n, err)
	n, err = r.Responses.DeleteWhere(ctx, func(resp *models.SessionResponse) bool { return resp.SessionID == id })
	step(KeyResponses, n, err)
	n, err = r.Results.DeleteWhere(ctx, func(res *models.SessionResults) bool { return res.SessionID == id })
	step(KeyResults, n, err)
	n, err = r.DomainAnalyses.DeleteWhere(ctx, func(d *models.DomainAnalysis) bool { return d.SessionID == id })
	step(KeyDomainAnalysis, n, err)

	deleted, err := r.Sessions.Delete(ctx, id)
	if err != nil {
		return false, multierr.Append(errs, err)
	}

	if errs != nil {
		logger.Warn("Session deleted with leftover dependents",
			zap.String("session_id", id),
			zap.Error(errs),
		)
		return deleted, fmt.Errorf("%w: session %s: %w", ErrPartialCascade, id, errs)
	}

	logger.Info("Session deleted",
		zap.String("session_id", id),
		zap.Int("profiles", counts[KeyProfiles]),
		zap.Int("responses", counts[KeyResponses]),
		zap.Int("results", counts[KeyResults]),
		zap.Int("domain_analysis", counts[KeyDomainAnalysis]),
	)
	return deleted, nil
}
