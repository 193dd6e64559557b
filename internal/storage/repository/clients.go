package repository

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
)

type ClientInput struct {
	Name        string
	Description *string
	Industry    *string
	Logo        *string
}

// ClientPatch sets only the non-nil fields.
type ClientPatch struct {
	Name        *string
	Description *string
	Industry    *string
	Logo        *string
}

func (r *Repository) CreateClient(ctx context.Context, in ClientInput) (*models.Client, error) {
	return r.Clients.Create(ctx, models.Client{
		Name:        in.Name,
		Description: in.Description,
		Industry:    in.Industry,
		Logo:        in.Logo,
	})
}

func (r *Repository) GetClient(ctx context.Context, id string) (*models.Client, error) {
	return r.Clients.Get(ctx, id)
}

func (r *Repository) ListClients(ctx context.Context) ([]models.Client, error) {
	return r.Clients.List(ctx, nil)
}

func (r *Repository) UpdateClient(ctx context.Context, id string, patch ClientPatch) (*models.Client, error) {
	return r.Clients.Update(ctx, id, func(c *models.Client) error {
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.Description != nil {
			c.Description = patch.Description
		}
		if patch.Industry != nil {
			c.Industry = patch.Industry
		}
		if patch.Logo != nil {
			c.Logo = patch.Logo
		}
		c.UpdatedAt = r.now()
		return nil
	})
}

// DeleteClient removes the client, each of its sessions (with their own
// cascade) and its axis configuration. Failures of dependent deletes are
// aggregated; the client row is removed regardless.
func (r *Repository) DeleteClient(ctx context.Context, id string) (bool, error) {
	client, err := r.Clients.Get(ctx, id)
	if err != nil || client == nil {
		return false, err
	}

	var errs error
	sessions, err := r.Sessions.List(ctx, func(s *models.QuestionnaireSession) bool { return s.ClientID == id })
	errs = multierr.Append(errs, err)
	for _, s := range sessions {
		_, err := r.DeleteSession(ctx, s.ID)
		errs = multierr.Append(errs, err)
	}

	_, err = r.ClientAxes.DeleteWhere(ctx, func(a *models.ClientAnalysisAxis) bool { return a.ClientID == id })
	errs = multierr.Append(errs, err)
	_, err = r.ClientSpecificAxes.DeleteWhere(ctx, func(a *models.ClientSpecificAxis) bool { return a.ClientID == id })
	errs = multierr.Append(errs, err)

	deleted, err := r.Clients.Delete(ctx, id)
	if err != nil {
		return false, multierr.Append(errs, err)
	}
	if errs != nil {
		logger.Warn("Client deleted with leftover dependents",
			zap.String("client_id", id),
			zap.Error(errs),
		)
		return deleted, fmt.Errorf("%w: client %s: %w", ErrPartialCascade, id, errs)
	}

	logger.Info("Client deleted", zap.String("client_id", id), zap.Int("sessions", len(sessions)))
	return deleted, nil
}
