package signals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// recencyLambda gives recency a 30-day half-life: r(t) = exp(-λ·days).
var recencyLambda = math.Ln2 / 30.0

// typeImportance maps entity type to its initial importance. Importance
// moves afterwards only through user feedback.
var typeImportance = map[models.EntityType]float64{
	models.EntityTypeCoreIdentity: 1.0,
	models.EntityTypePerson:       0.9,
	models.EntityTypeGoal:         0.85,
	models.EntityTypeProject:      0.85,
	models.EntityTypeOrganization: 0.8,
	models.EntityTypeFeature:      0.8,
	models.EntityTypeProduct:      0.8,
	models.EntityTypeRole:         0.75,
	models.EntityTypeDecision:     0.75,
	models.EntityTypeSkill:        0.7,
	models.EntityTypeReflection:   0.7,
	models.EntityTypeConcept:      0.65,
	models.EntityTypeTask:         0.6,
	models.EntityTypeEvent:        0.6,
	models.EntityTypeMeetingNote:  0.5,
	models.EntityTypeLocation:     0.5,
}

// InitialImportance returns the type-defaulted starting importance.
func InitialImportance(typ models.EntityType) float64 {
	if v, ok := typeImportance[typ]; ok {
		return v
	}
	return 0.5
}

// Scorer maintains the (importance, recency, novelty) triple per entity.
type Scorer struct {
	store  storage.Store
	logger *slog.Logger
}

// NewScorer creates a signal scorer over the store.
func NewScorer(store storage.Store) *Scorer {
	return &Scorer{
		store:  store,
		logger: slog.Default().With("component", "signals"),
	}
}

// InitialSignal builds the signal row created alongside a new entity.
func InitialSignal(entity *models.Entity, now time.Time) *models.Signal {
	return &models.Signal{
		EntityID:       entity.ID,
		Importance:     InitialImportance(entity.Type),
		Recency:        1.0,
		Novelty:        Novelty(0, 0),
		LastSurfacedAt: &now,
		UpdatedAt:      now,
	}
}

// Novelty combines inverse edge degree and inverse age:
// (1/(1+0.1·edges) + 1/(1+0.05·age_days)) / 2.
func Novelty(edgeDegree int, ageDays float64) float64 {
	connectedness := 1.0 / (1.0 + float64(edgeDegree)*0.1)
	freshness := 1.0 / (1.0 + ageDays*0.05)
	return clamp((connectedness + freshness) / 2.0)
}

// DecayedRecency returns exp(-λ·Δdays) of the stored recency anchor.
func DecayedRecency(lastTouch time.Time, now time.Time) float64 {
	days := now.Sub(lastTouch).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return clamp(math.Exp(-recencyLambda * days))
}

// OnMention resets recency to 1.0 and stamps last_surfaced_at.
func (s *Scorer) OnMention(ctx context.Context, entityID uuid.UUID, now time.Time) error {
	sig, err := s.store.GetSignal(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load signal for %s: %w", entityID, err)
	}
	sig.Recency = 1.0
	sig.LastSurfacedAt = &now
	return s.store.UpdateSignal(ctx, sig)
}

// OnFeedback applies a clamped importance delta.
func (s *Scorer) OnFeedback(ctx context.Context, entityID uuid.UUID, delta float64) error {
	sig, err := s.store.GetSignal(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load signal for %s: %w", entityID, err)
	}
	sig.Importance = clamp(sig.Importance + delta)
	return s.store.UpdateSignal(ctx, sig)
}

// RecomputeNovelty refreshes novelty from the current edge degree and
// entity age. Called whenever the relationship engine changes the degree
// and during the nightly pass.
func (s *Scorer) RecomputeNovelty(ctx context.Context, entityID uuid.UUID) error {
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	degree, err := s.store.CountEdgesForEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to count edges for %s: %w", entityID, err)
	}
	sig, err := s.store.GetSignal(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load signal for %s: %w", entityID, err)
	}

	ageDays := time.Since(entity.CreatedAt).Hours() / 24.0
	sig.Novelty = Novelty(degree, ageDays)
	return s.store.UpdateSignal(ctx, sig)
}

// MaterializedRecency returns the live decayed recency without persisting.
// The stored value is only refreshed opportunistically on writes.
func (s *Scorer) MaterializedRecency(ctx context.Context, entityID uuid.UUID, now time.Time) (float64, error) {
	sig, err := s.store.GetSignal(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to load signal for %s: %w", entityID, err)
	}
	return MaterializedRecency(sig, now), nil
}

// MaterializedRecency computes the decayed value for an already-loaded
// signal row. Falls back to the stored recency when the entity has never
// been surfaced.
func MaterializedRecency(sig *models.Signal, now time.Time) float64 {
	if sig.LastSurfacedAt == nil {
		return sig.Recency
	}
	return DecayedRecency(*sig.LastSurfacedAt, now)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
