package comparison

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/aggregation"
	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/pkg/logger"
)

type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*models.QuestionnaireSession, error)
}

type ResultsSource interface {
	GetOrComputeSessionResults(ctx context.Context, sessionID string) (*models.SessionResults, error)
}

type Engine struct {
	sessions SessionLookup
	results  ResultsSource
}

func NewEngine(sessions SessionLookup, results ResultsSource) *Engine {
	return &Engine{sessions: sessions, results: results}
}

// CompareSessions compares the stored (or freshly computed) results of two
// sessions. A session with no answers yet yields aggregation.ErrNoData.
func (e *Engine) CompareSessions(ctx context.Context, firstID, secondID string) (*models.SessionComparison, error) {
	first, err := e.snapshot(ctx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := e.snapshot(ctx, secondID)
	if err != nil {
		return nil, err
	}

	cmp := Compare(first, second)

	logger.Info("Sessions compared",
		zap.String("session1", firstID),
		zap.String("session2", secondID),
		zap.Int("total_responses_change", cmp.TotalEvolution.TotalResponsesChange),
	)
	return &cmp, nil
}

func (e *Engine) snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", aggregation.ErrSessionNotFound, sessionID)
	}

	results, err := e.results.GetOrComputeSessionResults(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Results: *results, PlannedParticipants: session.PlannedParticipants}, nil
}

// FormatReport renders a comparison as plain text for terminals.
func FormatReport(c *models.SessionComparison) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\nSession Comparison\n==================\n\n")
	fmt.Fprintf(&b, "From: %s\nTo:   %s\n\n", c.Session1ID, c.Session2ID)

	b.WriteString("Cultures:\n")
	for _, ch := range c.CultureChanges {
		fmt.Fprintf(&b, "- %s (%s): %d%% -> %d%% (%+d, %s)\n",
			ch.Culture, ch.Culture.Label(),
			ch.Session1Percentage, ch.Session2Percentage,
			ch.ChangePercentage, ch.ChangeDirection,
		)
	}

	fmt.Fprintf(&b, "\nRespondents: %+d\n", c.TotalEvolution.TotalResponsesChange)
	if rate := c.TotalEvolution.ResponseRateChange; rate != nil {
		fmt.Fprintf(&b, "Response rate: %.1f%% -> %.1f%% (%+.1f pts)\n",
			*c.TotalEvolution.Session1ResponseRate, *c.TotalEvolution.Session2ResponseRate, *rate)
	} else {
		b.WriteString("Response rate: n/a (planned participants not set)\n")
	}
	return b.String()
}
