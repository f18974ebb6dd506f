package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/mentor"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

const (
	importanceDelta = 0.1
	maxKeywords     = 10
	// patternOverlapMin is the fraction of driver types and title
	// keywords that must match for a dismissal to reinforce an existing
	// pattern instead of creating a new one.
	patternOverlapMin = 0.5
)

// Change records one signal adjustment applied by feedback.
type Change struct {
	EntityID uuid.UUID `json:"entity_id"`
	Field    string    `json:"field"`
	Old      float64   `json:"old"`
	New      float64   `json:"new"`
}

// AcknowledgeResult is the outcome of an acknowledge operation.
type AcknowledgeResult struct {
	EntitiesAdjusted int
	Changes          []Change
}

// DismissResult is the outcome of a dismiss operation.
type DismissResult struct {
	EntitiesAdjusted int
	Changes          []Change
	PatternRecorded  bool
	Pattern          *models.DismissedPattern
}

// Processor applies user acknowledge/dismiss feedback to insight driver
// signals and maintains the dismissed-pattern memory.
type Processor struct {
	store  storage.Store
	scorer *signals.Scorer
	logger *slog.Logger
}

// NewProcessor creates a feedback processor.
func NewProcessor(store storage.Store, scorer *signals.Scorer) *Processor {
	return &Processor{
		store:  store,
		scorer: scorer,
		logger: slog.Default().With("component", "feedback"),
	}
}

// Acknowledge boosts every driver entity and transitions the insight to
// acknowledged. Feedback on a non-open insight fails without side effects.
func (p *Processor) Acknowledge(ctx context.Context, insightID uuid.UUID) (*AcknowledgeResult, error) {
	insight, err := p.openInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &AcknowledgeResult{}
	for _, entityID := range insight.Drivers.EntityIDs {
		change, err := p.adjustImportance(ctx, entityID, +importanceDelta)
		if err != nil {
			p.logger.Warn("failed to adjust driver entity", "entity_id", entityID, "error", err)
			continue
		}
		result.Changes = append(result.Changes, change)
		result.EntitiesAdjusted++

		if err := p.scorer.OnMention(ctx, entityID, now); err != nil {
			p.logger.Warn("failed to refresh recency", "entity_id", entityID, "error", err)
		}
	}

	insight.Status = models.InsightStatusAcknowledged
	if err := p.store.UpdateInsight(ctx, insight); err != nil {
		return nil, fmt.Errorf("failed to update insight status: %w", err)
	}

	p.logger.Info("insight acknowledged", "insight_id", insightID, "entities", result.EntitiesAdjusted)
	return result, nil
}

// Dismiss penalizes every driver entity, records (or reinforces) the
// dismissal pattern, and transitions the insight to dismissed.
func (p *Processor) Dismiss(ctx context.Context, insightID uuid.UUID) (*DismissResult, error) {
	insight, err := p.openInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}

	result := &DismissResult{}
	for _, entityID := range insight.Drivers.EntityIDs {
		change, err := p.adjustImportance(ctx, entityID, -importanceDelta)
		if err != nil {
			p.logger.Warn("failed to adjust driver entity", "entity_id", entityID, "error", err)
			continue
		}
		result.Changes = append(result.Changes, change)
		result.EntitiesAdjusted++
	}

	pattern, recorded, err := p.recordPattern(ctx, insight)
	if err != nil {
		p.logger.Warn("failed to record dismissed pattern", "insight_id", insightID, "error", err)
	} else {
		result.Pattern = pattern
		result.PatternRecorded = recorded
	}

	insight.Status = models.InsightStatusDismissed
	if err := p.store.UpdateInsight(ctx, insight); err != nil {
		return nil, fmt.Errorf("failed to update insight status: %w", err)
	}

	p.logger.Info("insight dismissed", "insight_id", insightID, "entities", result.EntitiesAdjusted)
	return result, nil
}

// openInsight loads an insight and verifies it still accepts feedback.
func (p *Processor) openInsight(ctx context.Context, insightID uuid.UUID) (*models.Insight, error) {
	insight, err := p.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, fmt.Errorf("insight %s not found: %w", insightID, err)
	}
	if insight.Status != models.InsightStatusOpen {
		return nil, fmt.Errorf("insight %s already %s", insightID, insight.Status)
	}
	return insight, nil
}

func (p *Processor) adjustImportance(ctx context.Context, entityID uuid.UUID, delta float64) (Change, error) {
	sig, err := p.store.GetSignal(ctx, entityID)
	if err != nil {
		return Change{}, err
	}
	old := sig.Importance
	if err := p.scorer.OnFeedback(ctx, entityID, delta); err != nil {
		return Change{}, err
	}
	updated, err := p.store.GetSignal(ctx, entityID)
	if err != nil {
		return Change{}, err
	}
	return Change{EntityID: entityID, Field: "importance", Old: old, New: updated.Importance}, nil
}

// recordPattern extracts the dismissal signature and either reinforces a
// sufficiently similar existing pattern or inserts a new one. Returns the
// pattern and whether a new row was created.
func (p *Processor) recordPattern(ctx context.Context, insight *models.Insight) (*models.DismissedPattern, bool, error) {
	now := time.Now().UTC()

	driverTypes, err := p.driverTypes(ctx, insight.Drivers.EntityIDs)
	if err != nil {
		return nil, false, err
	}
	titleKeywords := capKeywords(mentor.ExtractKeywords(insight.Title))
	bodyKeywords := capKeywords(mentor.ExtractKeywords(insight.Body))

	existing, err := p.store.ListDismissedPatterns(ctx, insight.Drivers.InsightType, time.Time{})
	if err != nil {
		return nil, false, err
	}
	for _, candidate := range existing {
		if overlap(asStrings(candidate.DriverEntityTypes), asStrings(driverTypes)) >= patternOverlapMin &&
			overlap(candidate.Signature.TitleKeywords, titleKeywords) >= patternOverlapMin {
			candidate.DismissedCount++
			candidate.LastDismissedAt = now
			if err := p.store.UpdateDismissedPattern(ctx, candidate); err != nil {
				return nil, false, err
			}
			p.logger.Debug("dismissed pattern reinforced",
				"pattern_id", candidate.ID, "count", candidate.DismissedCount)
			return candidate, false, nil
		}
	}

	pattern := &models.DismissedPattern{
		ID:                uuid.New(),
		InsightType:       insight.Drivers.InsightType,
		DriverEntityTypes: driverTypes,
		Signature: models.PatternSignature{
			TitleKeywords: titleKeywords,
			BodyKeywords:  bodyKeywords,
			EntityIDs:     insight.Drivers.EntityIDs,
		},
		DismissedCount:   1,
		FirstDismissedAt: now,
		LastDismissedAt:  now,
	}
	if err := p.store.CreateDismissedPattern(ctx, pattern); err != nil {
		return nil, false, err
	}
	return pattern, true, nil
}

func (p *Processor) driverTypes(ctx context.Context, entityIDs []uuid.UUID) ([]models.EntityType, error) {
	seen := map[models.EntityType]bool{}
	var out []models.EntityType
	for _, id := range entityIDs {
		entity, err := p.store.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		if !seen[entity.Type] {
			seen[entity.Type] = true
			out = append(out, entity.Type)
		}
	}
	return out, nil
}

// overlap returns |a ∩ b| / |a ∪ b| over two string sets; two empty sets
// overlap fully.
func overlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	setA := map[string]bool{}
	for _, s := range a {
		setA[s] = true
	}
	intersection := 0
	setB := map[string]bool{}
	for _, s := range b {
		if setB[s] {
			continue
		}
		setB[s] = true
		if setA[s] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func capKeywords(keywords []string) []string {
	if len(keywords) > maxKeywords {
		return keywords[:maxKeywords]
	}
	return keywords
}

func asStrings(types []models.EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
