package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/metrics"
	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
)

var (
	// ErrNoData means the session or respondent exists but has no answers.
	ErrNoData = errors.New("no responses to aggregate")
	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrProfileNotFound is returned when the respondent profile id is unknown.
	ErrProfileNotFound = errors.New("respondent profile not found")
)

// Store is the slice of the repository the engine reads from and writes to.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.QuestionnaireSession, error)
	GetProfile(ctx context.Context, id string) (*models.RespondentProfile, error)
	ListProfilesBySession(ctx context.Context, sessionID string) ([]models.RespondentProfile, error)
	ListResponsesBySession(ctx context.Context, sessionID string) ([]models.SessionResponse, error)
	ListResponsesByProfile(ctx context.Context, profileID string) ([]models.SessionResponse, error)
	ListQuestions(ctx context.Context) ([]models.Question, error)
	GetSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error)
	SaveSessionResults(ctx context.Context, results models.SessionResults) error
	SaveDomainAnalysis(ctx context.Context, sessionID string, rows []models.DomainAnalysis) error
}

// Engine recomputes derived snapshots from raw responses. It keeps no state
// between calls.
type Engine struct {
	store  Store
	now    func() time.Time
	tracer trace.Tracer
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store:  store,
		now:    time.Now,
		tracer: otel.Tracer("github.com/culture-survey/backend/internal/aggregation"),
	}
}

// ComputeSessionResults rebuilds and stores the results snapshot of a
// session, replacing any earlier one.
func (e *Engine) ComputeSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error) {
	var results *models.SessionResults

	err := e.observe(ctx, "session", sessionID, func(ctx context.Context) error {
		if err := e.requireSession(ctx, sessionID); err != nil {
			return err
		}

		responses, err := e.store.ListResponsesBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load responses: %w", err)
		}
		if len(responses) == 0 {
			return fmt.Errorf("%w: session %s", ErrNoData, sessionID)
		}

		profiles, err := e.store.ListProfilesBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load respondent profiles: %w", err)
		}

		results = &models.SessionResults{
			SessionID:           sessionID,
			TotalResponses:      distinctProfiles(responses),
			TotalAnswers:        len(responses),
			CultureDistribution: CultureDistribution(responses),
			RespondentBreakdown: RespondentBreakdown(profiles),
			CreatedAt:           e.now(),
		}

		if err := e.store.SaveSessionResults(ctx, *results); err != nil {
			return fmt.Errorf("failed to save session results: %w", err)
		}

		logger.Info("Session results computed",
			zap.String("session_id", sessionID),
			zap.Int("respondents", results.TotalResponses),
			zap.Int("answers", results.TotalAnswers),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetOrComputeSessionResults returns the stored snapshot when there is one.
func (e *Engine) GetOrComputeSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error) {
	cached, err := e.store.GetSessionResults(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached results: %w", err)
	}
	if cached != nil {
		logger.Debug("Using cached session results", zap.String("session_id", sessionID))
		return cached, nil
	}
	return e.ComputeSessionResults(ctx, sessionID)
}

// ComputeDomainAnalysis groups the session's answers by question domain and
// stores one radar row per domain. Every domain of the question catalog gets
// a row, including domains with no answers.
func (e *Engine) ComputeDomainAnalysis(ctx context.Context, sessionID string) ([]models.DomainAnalysis, error) {
	var rows []models.DomainAnalysis

	err := e.observe(ctx, "domain", sessionID, func(ctx context.Context) error {
		if err := e.requireSession(ctx, sessionID); err != nil {
			return err
		}

		questions, err := e.store.ListQuestions(ctx)
		if err != nil {
			return fmt.Errorf("failed to load questions: %w", err)
		}
		responses, err := e.store.ListResponsesBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load responses: %w", err)
		}

		domainOf := make(map[int64]string, len(questions))
		var domains []string
		counts := make(map[string]*[4]int)
		for _, q := range questions {
			domainOf[q.ID] = q.Domaine
			if _, ok := counts[q.Domaine]; !ok {
				counts[q.Domaine] = &[4]int{}
				domains = append(domains, q.Domaine)
			}
		}

		orphaned := 0
		for _, r := range responses {
			domain, ok := domainOf[r.QuestionID]
			if !ok {
				orphaned++
				continue
			}
			switch r.Answer {
			case models.CultureA:
				counts[domain][0]++
			case models.CultureB:
				counts[domain][1]++
			case models.CultureC:
				counts[domain][2]++
			case models.CultureD:
				counts[domain][3]++
			}
		}
		if orphaned > 0 {
			logger.Warn("Responses reference unknown questions",
				zap.String("session_id", sessionID),
				zap.Int("count", orphaned),
			)
		}

		now := e.now()
		rows = make([]models.DomainAnalysis, 0, len(domains))
		for _, domain := range domains {
			c := counts[domain]
			x, y := RadarCoordinates(c[0], c[1], c[2], c[3])
			rows = append(rows, models.DomainAnalysis{
				SessionID:      sessionID,
				Domaine:        domain,
				RadarX:         x,
				RadarY:         y,
				CountA:         c[0],
				CountB:         c[1],
				CountC:         c[2],
				CountD:         c[3],
				TotalResponses: c[0] + c[1] + c[2] + c[3],
				CreatedAt:      now,
			})
		}

		if err := e.store.SaveDomainAnalysis(ctx, sessionID, rows); err != nil {
			return fmt.Errorf("failed to save domain analysis: %w", err)
		}

		logger.Info("Domain analysis computed",
			zap.String("session_id", sessionID),
			zap.Int("domains", len(rows)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ComputeRespondentResults is the culture distribution of a single
// respondent's answers. It is not stored.
func (e *Engine) ComputeRespondentResults(ctx context.Context, profileID string) (*models.RespondentResults, error) {
	var results *models.RespondentResults

	err := e.observe(ctx, "respondent", profileID, func(ctx context.Context) error {
		profile, err := e.store.GetProfile(ctx, profileID)
		if err != nil {
			return fmt.Errorf("failed to load respondent profile: %w", err)
		}
		if profile == nil {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}

		responses, err := e.store.ListResponsesByProfile(ctx, profileID)
		if err != nil {
			return fmt.Errorf("failed to load responses: %w", err)
		}
		if len(responses) == 0 {
			return fmt.Errorf("%w: respondent %s", ErrNoData, profileID)
		}

		results = &models.RespondentResults{
			SessionID:           profile.SessionID,
			RespondentProfileID: profileID,
			TotalResponses:      1,
			TotalAnswers:        len(responses),
			CultureDistribution: CultureDistribution(responses),
			CreatedAt:           e.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) requireSession(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (e *Engine) observe(ctx context.Context, kind, id string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "aggregation."+kind, trace.WithAttributes(
		attribute.String("aggregation.kind", kind),
		attribute.String("aggregation.id", id),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.AggregationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoData):
		status = "no_data"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrProfileNotFound):
		status = "not_found"
	default:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Aggregation failed",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(err),
		)
	}
	metrics.AggregationRuns.WithLabelValues(kind, status).Inc()
	return err
}
