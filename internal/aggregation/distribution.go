package aggregation

import (
	"math"
	"slices"

	"github.com/culture-survey/backend/internal/storage/models"
)

// KnownAxes are the respondent attributes reported first in a breakdown.
var KnownAxes = []string{"division", "domain", "age_range", "gender", "seniority"}

// CultureDistribution counts answers per culture. Percentages use the number
// of answers as denominator and are rounded independently, so they sum to
// 100 give or take 3. Every culture is present, even at zero.
func CultureDistribution(responses []models.SessionResponse) []models.CultureScore {
	counts := make(map[models.Culture]int, len(models.Cultures))
	for _, r := range responses {
		counts[r.Answer]++
	}

	total := len(responses)
	scores := make([]models.CultureScore, 0, len(models.Cultures))
	for _, c := range models.Cultures {
		scores = append(scores, models.CultureScore{
			Culture:    c,
			Count:      counts[c],
			Percentage: percentage(counts[c], total),
		})
	}
	return scores
}

func percentage(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

// RadarCoordinates projects a domain's answer counts onto the two bipolar
// radar axes. Both coordinates lie in [-1, 1]; an empty domain sits at the
// origin.
func RadarCoordinates(a, b, c, d int) (x, y float64) {
	total := a + b + c + d
	if total == 0 {
		return 0, 0
	}
	n := float64(total)
	x = float64(a+b-c-d) / n
	y = float64(a-b+c-d) / n
	return x, y
}

// RespondentBreakdown tallies, for each axis, how many profiles gave each
// value. Multiselect answers count once per selected value. Axes nobody
// answered are left out.
func RespondentBreakdown(profiles []models.RespondentProfile) map[string]map[string]int {
	breakdown := make(map[string]map[string]int)
	for _, p := range profiles {
		for axis, value := range p.AxisResponses {
			for _, v := range value.Values {
				if v == "" {
					continue
				}
				if breakdown[axis] == nil {
					breakdown[axis] = make(map[string]int)
				}
				breakdown[axis][v]++
			}
		}
	}
	return breakdown
}

// OrderedAxes lists the axes of a breakdown for display: known attributes in
// their fixed order, then any other axis id alphabetically.
func OrderedAxes(breakdown map[string]map[string]int) []string {
	axes := make([]string, 0, len(breakdown))
	for _, k := range KnownAxes {
		if _, ok := breakdown[k]; ok {
			axes = append(axes, k)
		}
	}

	var others []string
	for k := range breakdown {
		if !slices.Contains(KnownAxes, k) {
			others = append(others, k)
		}
	}
	slices.Sort(others)
	return append(axes, others...)
}

func distinctProfiles(responses []models.SessionResponse) int {
	seen := make(map[string]struct{}, len(responses))
	for _, r := range responses {
		seen[r.RespondentProfileID] = struct{}{}
	}
	return len(seen)
}
