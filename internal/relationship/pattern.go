package relationship

import (
	"context"
	"regexp"
	"strings"

	"github.com/evan-ryan-york/umg/internal/models"
)

// roleAtRe matches titles of the form "<Role> at <Org>" or "<Role>, <Org>".
var roleAtRe = regexp.MustCompile(`^(.+?)(?:\s+at\s+|,\s+)(.+)$`)

// PatternStrategy runs deterministic matchers over entity titles. The
// canonical pattern links a role entity to the organization named inside
// its own title.
type PatternStrategy struct{}

var _ Strategy = (*PatternStrategy)(nil)

func NewPatternStrategy() *PatternStrategy { return &PatternStrategy{} }

func (s *PatternStrategy) Name() string { return "pattern" }

func (s *PatternStrategy) Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error) {
	orgsByName := map[string]*models.Entity{}
	for _, e := range entities {
		if e.Type == models.EntityTypeOrganization {
			orgsByName[strings.ToLower(e.Title)] = e
		}
	}

	var out []Candidate
	for _, e := range entities {
		if e.Type != models.EntityTypeRole {
			continue
		}
		m := roleAtRe.FindStringSubmatch(e.Title)
		if m == nil {
			continue
		}
		orgName := strings.ToLower(strings.TrimSpace(m[2]))
		org, ok := orgsByName[orgName]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			FromID:         e.ID,
			ToID:           org.ID,
			Kind:           models.EdgeKindRoleAt,
			Confidence:     0.95,
			Importance:     0.7,
			Description:    strings.TrimSpace(m[1]) + " at " + org.Title,
			SourceStrategy: s.Name(),
		})
	}
	return out, nil
}
