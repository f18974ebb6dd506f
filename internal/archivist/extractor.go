package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/resolution"
)

const extractionSystemPrompt = `You are an entity extractor for a personal knowledge graph.
Given captured text, extract the distinct entities it mentions.

Allowed entity types: core_identity, person, organization, role, project,
feature, product, goal, skill, decision, task, meeting_note, location,
concept, event, reflection.

Extraction rules:
- A role held at an organization is TWO entities: the role (type "role",
  titled like "Executive Director at Acme Corp") and the organization
  (type "organization").
- Mark the capturing user's own person entity with "is_user": true.
- Dates use YYYY-MM-DD format; omit unknown dates.
- Keep summaries to one or two sentences grounded in the text.

Return a JSON object:
{
  "entities": [
    {
      "title": "...",
      "type": "...",
      "summary": "...",
      "aliases": ["..."],
      "tags": ["..."],
      "start_date": "YYYY-MM-DD",
      "end_date": "YYYY-MM-DD",
      "is_user": false
    }
  ]
}`

// Extractor turns cleaned event text into entity candidates via a single
// deterministic LLM call (temperature 0, JSON mode).
type Extractor struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewExtractor creates an extractor over the completer.
func NewExtractor(completer llm.Completer) *Extractor {
	return &Extractor{
		completer: completer,
		logger:    slog.Default().With("component", "extractor"),
	}
}

type extractedEntity struct {
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Summary   string   `json:"summary"`
	Aliases   []string `json:"aliases"`
	Tags      []string `json:"tags"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	IsUser    bool     `json:"is_user"`
}

type extractionResponse struct {
	Entities []extractedEntity `json:"entities"`
}

// Extract returns the entity candidates found in text. Invalid items are
// dropped with a warning; a malformed response is a validation error the
// caller treats as retryable at the stage level.
func (x *Extractor) Extract(ctx context.Context, text string, refs *ReferenceMap) ([]resolution.Candidate, error) {
	var sb strings.Builder
	if refs != nil && refs.Len() > 0 {
		sb.WriteString("Reference context:\n")
		for _, line := range refs.PromptLines() {
			sb.WriteString("- " + line + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Captured text:\n")
	sb.WriteString(text)

	response, err := x.completer.CompleteJSON(ctx, extractionSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("entity extraction call failed: %w", err)
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	candidates := make([]resolution.Candidate, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			x.logger.Warn("dropping extracted entity with empty title")
			continue
		}
		typ := models.EntityType(strings.ToLower(strings.TrimSpace(e.Type)))
		if !models.ValidEntityType(typ) {
			x.logger.Warn("dropping extracted entity with invalid type",
				"title", title, "type", e.Type)
			continue
		}
		candidates = append(candidates, resolution.Candidate{
			Title:     title,
			Type:      typ,
			Summary:   strings.TrimSpace(e.Summary),
			Aliases:   e.Aliases,
			Tags:      e.Tags,
			StartDate: parseDate(e.StartDate),
			EndDate:   parseDate(e.EndDate),
			IsUser:    e.IsUser,
		})
	}

	x.logger.Debug("entities extracted", "count", len(candidates))
	return candidates, nil
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
