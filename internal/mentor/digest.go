package mentor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/metrics"
	"github.com/evan-ryan-york/umg/internal/models"
)

// digestInstructions holds the type-specific prompt for each insight the
// daily digest produces.
var digestInstructions = map[string]string{
	models.InsightTypeDeltaWatch: `Look for something that changed recently or is about to change:
momentum gained or lost, a deadline approaching, an entity going quiet.
Name the shift and why it matters now.`,
	models.InsightTypeConnection: `Surface a non-obvious connection between two or more entities in the
context: shared goals, overlapping timelines, a relationship the user may
not have noticed. Explain the link concretely.`,
	models.InsightTypePrompt: `Write one pointed question that pushes the user forward on something in
the context. It should be specific enough that a yes/no answer is
impossible.`,
}

const digestSystemPrompt = `You generate one insight for a daily digest from a personal knowledge
graph. Use only the provided context. If previously dismissed patterns
are listed, do NOT repeat them or anything closely resembling them.

Return a JSON object:
{"title": "...", "body": "...", "driver_entity_ids": ["<uuid>", ...]}

driver_entity_ids must be ids copied verbatim from the context entities
that justify the insight.`

// DigestResult reports what a digest run produced.
type DigestResult struct {
	InsightsCreated int
	Insights        []*models.Insight
}

// GenerateDigest produces up to three insights (delta watch, connection,
// prompt). A type whose generation fails is skipped; zero insights is a
// success, not an error.
func (m *Mentor) GenerateDigest(ctx context.Context) (*DigestResult, error) {
	bundle, err := m.assembler.Assemble(ctx, "", nil)
	if err != nil {
		return nil, fmt.Errorf("context assembly failed: %w", err)
	}

	result := &DigestResult{}
	for _, insightType := range []string{
		models.InsightTypeDeltaWatch,
		models.InsightTypeConnection,
		models.InsightTypePrompt,
	} {
		insight, err := m.generateInsight(ctx, bundle, insightType)
		if err != nil {
			m.logger.Warn("insight generation failed", "type", insightType, "error", err)
			continue
		}
		if insight == nil {
			continue
		}
		result.Insights = append(result.Insights, insight)
		result.InsightsCreated++
		metrics.InsightsGenerated.WithLabelValues(insightType).Inc()
	}
	return result, nil
}

func (m *Mentor) generateInsight(ctx context.Context, bundle *ContextBundle, insightType string) (*models.Insight, error) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	dismissed, err := m.store.ListDismissedPatterns(ctx, insightType, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load dismissed patterns: %w", err)
	}

	prompt := renderDigestPrompt(bundle, insightType, dismissed)
	response, err := m.completer.CompleteJSON(ctx, digestSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("digest call failed: %w", err)
	}

	var parsed struct {
		Title           string   `json:"title"`
		Body            string   `json:"body"`
		DriverEntityIDs []string `json:"driver_entity_ids"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse digest response: %w", err)
	}
	if strings.TrimSpace(parsed.Title) == "" || strings.TrimSpace(parsed.Body) == "" {
		return nil, nil
	}

	// Only ids that resolve to real entities survive validation.
	var drivers []uuid.UUID
	for _, raw := range parsed.DriverEntityIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			m.logger.Warn("dropping malformed driver entity id", "raw", raw)
			continue
		}
		if _, err := m.store.GetEntity(ctx, id); err != nil {
			m.logger.Warn("dropping unknown driver entity id", "id", id)
			continue
		}
		drivers = append(drivers, id)
	}

	now := time.Now().UTC()
	insight := &models.Insight{
		ID:    uuid.New(),
		Title: strings.TrimSpace(parsed.Title),
		Body:  strings.TrimSpace(parsed.Body),
		Drivers: models.InsightDrivers{
			EntityIDs:   drivers,
			InsightType: insightType,
		},
		Status:    models.InsightStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateInsight(ctx, insight); err != nil {
		return nil, fmt.Errorf("failed to persist insight: %w", err)
	}

	m.logger.Info("insight generated", "type", insightType, "insight_id", insight.ID)
	return insight, nil
}

func renderDigestPrompt(bundle *ContextBundle, insightType string, dismissed []*models.DismissedPattern) string {
	var sb strings.Builder
	sb.WriteString("Insight type: " + insightType + "\n")
	sb.WriteString(digestInstructions[insightType] + "\n\n")

	sb.WriteString("Context entities:\n")
	seen := map[uuid.UUID]bool{}
	appendEntity := func(e *models.Entity) {
		if seen[e.ID] {
			return
		}
		seen[e.ID] = true
		sb.WriteString(fmt.Sprintf("- id=%s %s (%s)", e.ID, e.Title, e.Type))
		if e.Summary != "" {
			sb.WriteString(": " + e.Summary)
		}
		sb.WriteString("\n")
	}
	for _, e := range bundle.CoreIdentity {
		appendEntity(e)
	}
	for _, s := range bundle.HighPriority {
		appendEntity(s.Entity)
	}
	for _, s := range bundle.ActiveWork {
		appendEntity(s.Entity)
	}

	if len(bundle.Relationships) > 0 {
		sb.WriteString("\nRelationships:\n")
		for _, r := range bundle.Relationships {
			sb.WriteString(fmt.Sprintf("- %s --%s--> %s (%s)\n",
				r.Edge.FromID, r.Edge.Kind, r.Edge.ToID, r.Edge.Description))
		}
	}

	if len(dismissed) > 0 {
		sb.WriteString("\nPreviously dismissed patterns (do not repeat):\n")
		for _, p := range dismissed {
			sb.WriteString(fmt.Sprintf("- keywords: %s (dismissed %d times)\n",
				strings.Join(p.Signature.TitleKeywords, ", "), p.DismissedCount))
		}
	}
	return sb.String()
}
