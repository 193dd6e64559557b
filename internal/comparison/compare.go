package comparison

import (
	"math"

	"github.com/culture-survey/backend/internal/storage/models"
)

// Snapshot is one side of a comparison: a session's results plus the
// headcount it was planned for, when known.
type Snapshot struct {
	Results             models.SessionResults
	PlannedParticipants *int
}

// Compare computes the per-culture change from first to second. A culture
// missing from either side counts as 0%. Percentages are whole numbers, so
// any non-zero delta is a real change.
func Compare(first, second Snapshot) models.SessionComparison {
	before := percentages(first.Results)
	after := percentages(second.Results)

	changes := make([]models.CultureChange, 0, len(models.Cultures))
	for _, c := range models.Cultures {
		delta := after[c] - before[c]
		changes = append(changes, models.CultureChange{
			Culture:            c,
			Session1Percentage: before[c],
			Session2Percentage: after[c],
			ChangePercentage:   delta,
			ChangeDirection:    direction(delta),
		})
	}

	evolution := models.TotalEvolution{
		TotalResponsesChange: second.Results.TotalResponses - first.Results.TotalResponses,
		Session1ResponseRate: ResponseRate(first.Results.TotalResponses, first.PlannedParticipants),
		Session2ResponseRate: ResponseRate(second.Results.TotalResponses, second.PlannedParticipants),
	}
	if evolution.Session1ResponseRate != nil && evolution.Session2ResponseRate != nil {
		delta := round1(*evolution.Session2ResponseRate - *evolution.Session1ResponseRate)
		evolution.ResponseRateChange = &delta
	}

	return models.SessionComparison{
		Session1ID:     first.Results.SessionID,
		Session2ID:     second.Results.SessionID,
		CultureChanges: changes,
		TotalEvolution: evolution,
	}
}

// ResponseRate is respondents as a percentage of planned participants,
// rounded to one decimal. It is nil when no positive plan is set.
func ResponseRate(respondents int, planned *int) *float64 {
	if planned == nil || *planned <= 0 {
		return nil
	}
	rate := round1(float64(respondents) / float64(*planned) * 100)
	return &rate
}

func percentages(results models.SessionResults) map[models.Culture]int {
	out := make(map[models.Culture]int, len(models.Cultures))
	for _, s := range results.CultureDistribution {
		out[s.Culture] = s.Percentage
	}
	return out
}

func direction(delta int) models.ChangeDirection {
	switch {
	case delta > 0:
		return models.ChangeIncrease
	case delta < 0:
		return models.ChangeDecrease
	default:
		return models.ChangeStable
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
