package repository

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
)

type ResponseInput struct {
	SessionID           string
	RespondentProfileID string
	QuestionID          int64
	Answer              models.Culture
}

// CreateProfile registers a respondent for a session. Profiles cannot be
// changed once created.
func (r *Repository) CreateProfile(ctx context.Context, sessionID string, axisResponses map[string]models.AxisValue) (*models.RespondentProfile, error) {
	session, err := r.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s does not exist", ErrInvalid, sessionID)
	}

	return r.Profiles.Create(ctx, models.RespondentProfile{
		SessionID:     sessionID,
		AxisResponses: axisResponses,
	})
}

func (r *Repository) GetProfile(ctx context.Context, id string) (*models.RespondentProfile, error) {
	return r.Profiles.Get(ctx, id)
}

func (r *Repository) ListProfilesBySession(ctx context.Context, sessionID string) ([]models.RespondentProfile, error) {
	return r.Profiles.List(ctx, func(p *models.RespondentProfile) bool { return p.SessionID == sessionID })
}

// CreateResponse appends one answer. A second answer from the same profile
// to the same question is rejected with ErrDuplicate.
func (r *Repository) CreateResponse(ctx context.Context, in ResponseInput) (*models.SessionResponse, error) {
	if err := r.checkRespondent(ctx, in.SessionID, in.RespondentProfileID); err != nil {
		return nil, err
	}
	return r.Responses.Create(ctx, models.SessionResponse{
		SessionID:           in.SessionID,
		RespondentProfileID: in.RespondentProfileID,
		QuestionID:          in.QuestionID,
		Answer:              in.Answer,
	})
}

// RecordAnswers stores a respondent's answers in a single write, in question
// order. Either all rows are stored or none.
func (r *Repository) RecordAnswers(ctx context.Context, sessionID, profileID string, answers map[int64]models.Culture) ([]models.SessionResponse, error) {
	if err := r.checkRespondent(ctx, sessionID, profileID); err != nil {
		return nil, err
	}

	questionIDs := make([]int64, 0, len(answers))
	for id := range answers {
		questionIDs = append(questionIDs, id)
	}
	slices.Sort(questionIDs)

	rows := make([]models.SessionResponse, 0, len(answers))
	for _, qid := range questionIDs {
		rows = append(rows, models.SessionResponse{
			SessionID:           sessionID,
			RespondentProfileID: profileID,
			QuestionID:          qid,
			Answer:              answers[qid],
		})
	}

	created, err := r.Responses.CreateMany(ctx, rows)
	if err != nil {
		return nil, err
	}

	logger.Debug("Answers recorded",
		zap.String("session_id", sessionID),
		zap.String("profile_id", profileID),
		zap.Int("answers", len(created)),
	)
	return created, nil
}

func (r *Repository) ListResponsesBySession(ctx context.Context, sessionID string) ([]models.SessionResponse, error) {
	return r.Responses.List(ctx, func(resp *models.SessionResponse) bool { return resp.SessionID == sessionID })
}

func (r *Repository) ListResponsesByProfile(ctx context.Context, profileID string) ([]models.SessionResponse, error) {
	return r.Responses.List(ctx, func(resp *models.SessionResponse) bool { return resp.RespondentProfileID == profileID })
}

func (r *Repository) checkRespondent(ctx context.Context, sessionID, profileID string) error {
	profile, err := r.Profiles.Get(ctx, profileID)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: respondent profile %s does not exist", ErrInvalid, profileID)
	}
	if profile.SessionID != sessionID {
		return fmt.Errorf("%w: respondent profile %s belongs to session %s", ErrInvalid, profileID, profile.SessionID)
	}
	return nil
}
