package relationship

import (
	"context"
	"fmt"
	"time"

	"github.com/evan-ryan-york/umg/internal/models"
)

// TemporalStrategy links entity pairs whose (start_date, end_date)
// intervals overlap. Confidence scales with how long the overlap lasted.
type TemporalStrategy struct{}

var _ Strategy = (*TemporalStrategy)(nil)

func NewTemporalStrategy() *TemporalStrategy { return &TemporalStrategy{} }

func (s *TemporalStrategy) Name() string { return "temporal" }

func (s *TemporalStrategy) Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error) {
	dated := make([]*models.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Metadata.StartDate != nil && e.Metadata.EndDate != nil {
			dated = append(dated, e)
		}
	}

	var out []Candidate
	for i := 0; i < len(dated); i++ {
		for j := i + 1; j < len(dated); j++ {
			a, b := dated[i], dated[j]
			overlap := intervalOverlap(
				*a.Metadata.StartDate, *a.Metadata.EndDate,
				*b.Metadata.StartDate, *b.Metadata.EndDate)
			if overlap <= 0 {
				continue
			}
			// Direct the edge from the earlier-starting entity so repeat
			// runs land on the same (from, to, kind) triple.
			from, to := a, b
			if b.Metadata.StartDate.Before(*a.Metadata.StartDate) {
				from, to = b, a
			}
			out = append(out, Candidate{
				FromID:         from.ID,
				ToID:           to.ID,
				Kind:           models.EdgeKindTemporalOverlap,
				Confidence:     overlapConfidence(overlap),
				Importance:     0.4,
				Description:    fmt.Sprintf("%q and %q overlapped for %d days", from.Title, to.Title, int(overlap.Hours()/24)),
				SourceStrategy: s.Name(),
			})
		}
	}
	return out, nil
}

// intervalOverlap returns the duration both intervals were active, zero or
// negative when disjoint: (startA <= endB) && (endA >= startB).
func intervalOverlap(startA, endA, startB, endB time.Time) time.Duration {
	start := startA
	if startB.After(start) {
		start = startB
	}
	end := endA
	if endB.Before(end) {
		end = endB
	}
	return end.Sub(start)
}

// overlapConfidence bands: <90d -> 0.6, <365d -> 0.7, >=365d -> 0.8.
func overlapConfidence(overlap time.Duration) float64 {
	days := overlap.Hours() / 24
	switch {
	case days < 90:
		return 0.6
	case days < 365:
		return 0.7
	default:
		return 0.8
	}
}
