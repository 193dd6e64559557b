package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/internal/storage/models"
	"github.com/culture-survey/backend/internal/storage/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func answers(sessionID, profileID string, cultures ...models.Culture) []models.SessionResponse {
	out := make([]models.SessionResponse, 0, len(cultures))
	for i, c := range cultures {
		out = append(out, models.SessionResponse{
			SessionID:           sessionID,
			RespondentProfileID: profileID,
			QuestionID:          int64(i + 1),
			Answer:              c,
		})
	}
	return out
}

// =============================================================================
// Pure helpers
// =============================================================================

func TestCultureDistribution_AllSameCulture(t *testing.T) {
	got := CultureDistribution(answers("s", "p", models.CultureA, models.CultureA, models.CultureA))

	want := []models.CultureScore{
		{Culture: models.CultureA, Count: 3, Percentage: 100},
		{Culture: models.CultureB, Count: 0, Percentage: 0},
		{Culture: models.CultureC, Count: 0, Percentage: 0},
		{Culture: models.CultureD, Count: 0, Percentage: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("distribution mismatch (-want +got):\n%s", diff)
	}
}

func TestCultureDistribution_PercentagesSumToHundredWithinRounding(t *testing.T) {
	cases := [][]models.Culture{
		{models.CultureA, models.CultureB, models.CultureC},
		{models.CultureA, models.CultureB, models.CultureC, models.CultureD, models.CultureD, models.CultureD},
		{models.CultureA, models.CultureA, models.CultureB, models.CultureC, models.CultureD, models.CultureD, models.CultureD},
		{models.CultureB},
	}

	for _, cultures := range cases {
		dist := CultureDistribution(answers("s", "p", cultures...))
		require.Len(t, dist, 4)

		sum, count := 0, 0
		for _, s := range dist {
			sum += s.Percentage
			count += s.Count
		}
		assert.Equal(t, len(cultures), count)
		assert.InDelta(t, 100, sum, 3, "cultures %v", cultures)
	}
}

func TestCultureDistribution_Empty(t *testing.T) {
	dist := CultureDistribution(nil)
	require.Len(t, dist, 4)
	for _, s := range dist {
		assert.Zero(t, s.Count)
		assert.Zero(t, s.Percentage)
	}
}

func TestRadarCoordinates(t *testing.T) {
	x, y := RadarCoordinates(0, 0, 0, 0)
	assert.Zero(t, x)
	assert.Zero(t, y)

	x, y = RadarCoordinates(4, 0, 0, 0)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 1.0, y)

	x, y = RadarCoordinates(0, 0, 0, 2)
	assert.Equal(t, -1.0, x)
	assert.Equal(t, -1.0, y)

	x, y = RadarCoordinates(1, 2, 3, 4)
	assert.InDelta(t, -0.4, x, 1e-9)
	assert.InDelta(t, -0.2, y, 1e-9)
}

func TestRespondentBreakdown(t *testing.T) {
	profiles := []models.RespondentProfile{
		{AxisResponses: map[string]models.AxisValue{
			"division":  models.Single("Sales"),
			"languages": models.Multiple("fr", "en"),
			"comment":   models.Single(""),
		}},
		{AxisResponses: map[string]models.AxisValue{
			"division":  models.Single("Sales"),
			"gender":    models.Single("F"),
			"languages": models.Multiple("fr"),
		}},
		{AxisResponses: nil},
	}

	got := RespondentBreakdown(profiles)
	want := map[string]map[string]int{
		"division":  {"Sales": 2},
		"gender":    {"F": 1},
		"languages": {"fr": 2, "en": 1},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"division", "gender", "languages"}, OrderedAxes(got))
}

func TestOrderedAxes_KnownFirstThenAlphabetical(t *testing.T) {
	breakdown := map[string]map[string]int{
		"seniority": {"5y": 1},
		"zone":      {"north": 1},
		"axis_17":   {"x": 1},
		"division":  {"Ops": 1},
	}
	assert.Equal(t, []string{"division", "seniority", "axis_17", "zone"}, OrderedAxes(breakdown))
}

// =============================================================================
// Engine
// =============================================================================

type fixture struct {
	repo    *repository.Repository
	engine  *Engine
	session *models.QuestionnaireSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	fs, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	repo, err := repository.Open(ctx, fs, repository.Options{})
	require.NoError(t, err)

	client, err := repo.CreateClient(ctx, repository.ClientInput{Name: "Acme"})
	require.NoError(t, err)
	session, err := repo.CreateSession(ctx, repository.SessionInput{ClientID: client.ID, Name: "Q1"})
	require.NoError(t, err)

	engine := NewEngine(repo)
	engine.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{repo: repo, engine: engine, session: session}
}

func (f *fixture) respondent(t *testing.T, axes map[string]models.AxisValue, byQuestion map[int64]models.Culture) string {
	t.Helper()
	ctx := context.Background()
	profile, err := f.repo.CreateProfile(ctx, f.session.ID, axes)
	require.NoError(t, err)
	_, err = f.repo.RecordAnswers(ctx, f.session.ID, profile.ID, byQuestion)
	require.NoError(t, err)
	return profile.ID
}

func TestComputeSessionResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.respondent(t, map[string]models.AxisValue{"division": models.Single("Sales")},
		map[int64]models.Culture{1: models.CultureA, 2: models.CultureA, 3: models.CultureB})
	f.respondent(t, map[string]models.AxisValue{"division": models.Single("Ops")},
		map[int64]models.Culture{1: models.CultureC, 2: models.CultureA, 3: models.CultureD})

	results, err := f.engine.ComputeSessionResults(ctx, f.session.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, results.TotalResponses)
	assert.Equal(t, 6, results.TotalAnswers)
	assert.Equal(t, []models.CultureScore{
		{Culture: models.CultureA, Count: 3, Percentage: 50},
		{Culture: models.CultureB, Count: 1, Percentage: 17},
		{Culture: models.CultureC, Count: 1, Percentage: 17},
		{Culture: models.CultureD, Count: 1, Percentage: 17},
	}, results.CultureDistribution)
	assert.Equal(t, map[string]map[string]int{"division": {"Sales": 1, "Ops": 1}}, results.RespondentBreakdown)

	stored, err := f.repo.GetSessionResults(ctx, f.session.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(results, stored); diff != "" {
		t.Errorf("stored snapshot mismatch (-computed +stored):\n%s", diff)
	}
}

func TestComputeSessionResults_NoDataIsNotNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ComputeSessionResults(ctx, f.session.ID)
	assert.ErrorIs(t, err, ErrNoData)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	_, err = f.engine.ComputeSessionResults(ctx, "session_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrNoData)
}

func TestGetOrComputeSessionResults_UsesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.respondent(t, nil, map[int64]models.Culture{1: models.CultureA})
	first, err := f.engine.GetOrComputeSessionResults(ctx, f.session.ID)
	require.NoError(t, err)

	f.respondent(t, nil, map[int64]models.Culture{1: models.CultureB})
	cached, err := f.engine.GetOrComputeSessionResults(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalAnswers, cached.TotalAnswers)

	fresh, err := f.engine.ComputeSessionResults(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalAnswers)

	all, err := f.repo.Results.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "recompute overwrites the snapshot")
}

func TestComputeDomainAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, q := range []repository.QuestionInput{
		{Text: "q1", Domaine: "Pilotage", Order: 1},
		{Text: "q2", Domaine: "Pilotage", Order: 2},
		{Text: "q3", Domaine: "Relations", Order: 3},
		{Text: "q4", Domaine: "Innovation", Order: 4},
	} {
		_, err := f.repo.CreateQuestion(ctx, q)
		require.NoError(t, err)
	}

	f.respondent(t, nil, map[int64]models.Culture{1: models.CultureA, 2: models.CultureB, 3: models.CultureD, 99: models.CultureA})
	f.respondent(t, nil, map[int64]models.Culture{1: models.CultureA, 2: models.CultureC, 3: models.CultureD})

	rows, err := f.engine.ComputeDomainAnalysis(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	pilotage, relations, innovation := rows[0], rows[1], rows[2]
	assert.Equal(t, "Pilotage", pilotage.Domaine)
	assert.Equal(t, [4]int{2, 1, 1, 0}, [4]int{pilotage.CountA, pilotage.CountB, pilotage.CountC, pilotage.CountD})
	assert.Equal(t, 4, pilotage.TotalResponses)
	assert.InDelta(t, 0.5, pilotage.RadarX, 1e-9)
	assert.InDelta(t, 0.5, pilotage.RadarY, 1e-9)

	assert.Equal(t, "Relations", relations.Domaine)
	assert.Equal(t, -1.0, relations.RadarX)
	assert.Equal(t, -1.0, relations.RadarY)

	assert.Equal(t, "Innovation", innovation.Domaine)
	assert.Zero(t, innovation.TotalResponses)
	assert.Zero(t, innovation.RadarX)
	assert.Zero(t, innovation.RadarY)

	stored, err := f.repo.ListDomainAnalysis(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	_, err = f.engine.ComputeDomainAnalysis(ctx, f.session.ID)
	require.NoError(t, err)
	stored, err = f.repo.ListDomainAnalysis(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "recompute replaces earlier rows")
}

func TestComputeRespondentResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	profileID := f.respondent(t, nil, map[int64]models.Culture{1: models.CultureD, 2: models.CultureD, 3: models.CultureC, 4: models.CultureD})
	f.respondent(t, nil, map[int64]models.Culture{1: models.CultureA})

	res, err := f.engine.ComputeRespondentResults(ctx, profileID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalResponses)
	assert.Equal(t, 4, res.TotalAnswers)
	assert.Equal(t, f.session.ID, res.SessionID)
	assert.Equal(t, models.CultureScore{Culture: models.CultureD, Count: 3, Percentage: 75}, res.CultureDistribution[3])
	assert.Equal(t, models.CultureScore{Culture: models.CultureC, Count: 1, Percentage: 25}, res.CultureDistribution[2])

	silent, err := f.repo.CreateProfile(ctx, f.session.ID, nil)
	require.NoError(t, err)
	_, err = f.engine.ComputeRespondentResults(ctx, silent.ID)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = f.engine.ComputeRespondentResults(ctx, "profile_missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) GetSession(context.Context, string) (*models.QuestionnaireSession, error) {
	return nil, s.err
}

func TestComputeSessionResults_PropagatesStorageErrors(t *testing.T) {
	engine := NewEngine(failingStore{err: kv.ErrStorageUnavailable})

	_, err := engine.ComputeSessionResults(context.Background(), "session_1")
	assert.True(t, errors.Is(err, kv.ErrStorageUnavailable))
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
