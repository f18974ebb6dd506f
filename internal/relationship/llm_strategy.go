package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/models"
)

const semanticSystemPrompt = `You are a relationship detector for a personal knowledge graph.
Given a set of entities (and optionally the text they came from), propose
directed relationships between them.

Rules:
- Refer to entities ONLY by their short ids (E1, E2, ...).
- "kind" is a snake_case verb phrase of your choosing, e.g. founded,
  worked_at, manages, mentored_by, inspired_by, relates_to.
- confidence and importance are in [0, 1].
- Dates use YYYY-MM-DD; omit unknown dates.
- Do not propose a relationship from an entity to itself.

Return a JSON object:
{
  "relationships": [
    {"from": "E1", "to": "E2", "kind": "founded", "confidence": 0.9,
     "importance": 0.7, "description": "...",
     "start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"}
  ]
}`

var snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SemanticLLMStrategy asks the model to propose relationships. The kind
// vocabulary is deliberately open; short opaque ids are threaded through
// the prompt and mapped back to UUIDs on the way out.
type SemanticLLMStrategy struct {
	completer llm.Completer
	logger    *slog.Logger
}

var _ Strategy = (*SemanticLLMStrategy)(nil)

func NewSemanticLLMStrategy(completer llm.Completer) *SemanticLLMStrategy {
	return &SemanticLLMStrategy{
		completer: completer,
		logger:    slog.Default().With("component", "relationship_llm"),
	}
}

func (s *SemanticLLMStrategy) Name() string { return "semantic_llm" }

type llmRelationship struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Kind        string  `json:"kind"`
	Confidence  float64 `json:"confidence"`
	Importance  float64 `json:"importance"`
	Description string  `json:"description"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
}

type llmRelationshipResponse struct {
	Relationships []llmRelationship `json:"relationships"`
}

func (s *SemanticLLMStrategy) Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error) {
	if s.completer == nil || !s.completer.IsEnabled() {
		return nil, fmt.Errorf("llm strategy unavailable: completer disabled")
	}
	if len(entities) < 2 {
		return nil, nil
	}

	shortIDs := map[string]uuid.UUID{}
	var sb strings.Builder
	sb.WriteString("Entities:\n")
	for i, e := range entities {
		short := fmt.Sprintf("E%d", i+1)
		shortIDs[short] = e.ID
		sb.WriteString(fmt.Sprintf("- %s: %q (type %s)", short, e.Title, e.Type))
		if e.Summary != "" {
			sb.WriteString(" — " + e.Summary)
		}
		sb.WriteString("\n")
	}
	if rc != nil && rc.EventText != "" {
		sb.WriteString("\nSource text:\n")
		sb.WriteString(rc.EventText)
	}

	response, err := s.completer.CompleteJSON(ctx, semanticSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("relationship detection call failed: %w", err)
	}

	var parsed llmRelationshipResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse relationship response: %w", err)
	}

	var out []Candidate
	for _, rel := range parsed.Relationships {
		fromID, okFrom := shortIDs[strings.TrimSpace(rel.From)]
		toID, okTo := shortIDs[strings.TrimSpace(rel.To)]
		if !okFrom || !okTo {
			s.logger.Warn("dropping relationship with unresolved short id",
				"from", rel.From, "to", rel.To, "kind", rel.Kind)
			continue
		}
		kind := normalizeKind(rel.Kind)
		if kind == "" {
			s.logger.Warn("dropping relationship with unusable kind", "kind", rel.Kind)
			continue
		}
		out = append(out, Candidate{
			FromID:         fromID,
			ToID:           toID,
			Kind:           kind,
			Confidence:     clamp01(rel.Confidence),
			Importance:     clamp01(rel.Importance),
			Description:    strings.TrimSpace(rel.Description),
			StartDate:      parseDate(rel.StartDate),
			EndDate:        parseDate(rel.EndDate),
			SourceStrategy: s.Name(),
		})
	}
	return out, nil
}

// normalizeKind coerces model output toward snake_case and rejects what
// cannot be salvaged.
func normalizeKind(kind string) string {
	k := strings.TrimSpace(strings.ToLower(kind))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	if !snakeCaseRe.MatchString(k) {
		return ""
	}
	return k
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
