package signals

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

func TestInitialImportanceByType(t *testing.T) {
	tests := []struct {
		typ  models.EntityType
		want float64
	}{
		{models.EntityTypeCoreIdentity, 1.0},
		{models.EntityTypeProject, 0.85},
		{models.EntityTypeFeature, 0.8},
		{models.EntityTypeMeetingNote, 0.5},
		{models.EntityType("unknown"), 0.5},
	}
	for _, tt := range tests {
		if got := InitialImportance(tt.typ); got != tt.want {
			t.Errorf("InitialImportance(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestNovelty(t *testing.T) {
	// No edges, age zero: both terms are 1.0.
	assert.InDelta(t, 1.0, Novelty(0, 0), 1e-9)

	// No edges, aged: (1 + 1/(1+age*0.05))/2.
	age := 20.0
	want := (1.0 + 1.0/(1.0+age*0.05)) / 2.0
	assert.InDelta(t, want, Novelty(0, age), 1e-9)

	// Heavily connected, old: approaches zero but stays positive.
	v := Novelty(100, 1000)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 0.15)
}

func TestDecayedRecencyHalfLife(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, DecayedRecency(now, now), 1e-9)
	assert.InDelta(t, 0.5, DecayedRecency(now.Add(-30*24*time.Hour), now), 1e-6)
	assert.InDelta(t, 0.25, DecayedRecency(now.Add(-60*24*time.Hour), now), 1e-6)
	// Clock skew never produces recency above 1.
	assert.InDelta(t, 1.0, DecayedRecency(now.Add(time.Hour), now), 1e-9)
}

func newEntityWithSignal(t *testing.T, store *storage.MemoryStore, importance float64) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	entity := &models.Entity{
		ID:            uuid.New(),
		Title:         "Entity",
		Type:          models.EntityTypeProject,
		SourceEventID: uuid.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateEntity(context.Background(), entity))
	require.NoError(t, store.CreateSignal(context.Background(), &models.Signal{
		EntityID:   entity.ID,
		Importance: importance,
		Recency:    0.3,
		Novelty:    1.0,
		UpdatedAt:  now,
	}))
	return entity.ID
}

func TestOnMentionResetsRecency(t *testing.T) {
	store := storage.NewMemoryStore()
	scorer := NewScorer(store)
	id := newEntityWithSignal(t, store, 0.5)

	now := time.Now().UTC()
	require.NoError(t, scorer.OnMention(context.Background(), id, now))

	sig, err := store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig.Recency)
	require.NotNil(t, sig.LastSurfacedAt)
	assert.True(t, sig.LastSurfacedAt.Equal(now))
}

func TestOnFeedbackClamps(t *testing.T) {
	store := storage.NewMemoryStore()
	scorer := NewScorer(store)
	id := newEntityWithSignal(t, store, 0.95)

	// Repeated acknowledges clamp at 1.
	for i := 0; i < 3; i++ {
		require.NoError(t, scorer.OnFeedback(context.Background(), id, +0.1))
	}
	sig, err := store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig.Importance)

	// Repeated dismissals clamp at 0.
	for i := 0; i < 15; i++ {
		require.NoError(t, scorer.OnFeedback(context.Background(), id, -0.1))
	}
	sig, err = store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.Importance)
}

func TestRecomputeNoveltyUsesEdgeDegree(t *testing.T) {
	store := storage.NewMemoryStore()
	scorer := NewScorer(store)
	a := newEntityWithSignal(t, store, 0.5)
	b := newEntityWithSignal(t, store, 0.5)

	require.NoError(t, store.InsertEdge(context.Background(), &models.Edge{
		ID: uuid.New(), FromID: a, ToID: b, Kind: "relates_to", Weight: 1.0,
		LastReinforcedAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	require.NoError(t, scorer.RecomputeNovelty(context.Background(), a))
	sig, err := store.GetSignal(context.Background(), a)
	require.NoError(t, err)

	// Degree 1, age ~0: (1/1.1 + 1)/2.
	want := (1.0/1.1 + 1.0) / 2.0
	assert.InDelta(t, want, sig.Novelty, 0.01)
}

func TestMaterializedRecencyDoesNotPersist(t *testing.T) {
	store := storage.NewMemoryStore()
	scorer := NewScorer(store)
	id := newEntityWithSignal(t, store, 0.5)

	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	sig, err := store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	sig.Recency = 1.0
	sig.LastSurfacedAt = &past
	require.NoError(t, store.UpdateSignal(context.Background(), sig))

	live, err := scorer.MaterializedRecency(context.Background(), id, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, math.Abs(live-0.5) < 1e-3)

	stored, err := store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored.Recency)
}
