package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

func seedGraphEntity(t *testing.T, store *storage.MemoryStore, title string) *models.Entity {
	t.Helper()
	e := makeEntity(title, models.EntityTypeConcept)
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e
}

func seedEdge(t *testing.T, store *storage.MemoryStore, from, to uuid.UUID, kind string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.InsertEdge(context.Background(), &models.Edge{
		ID: uuid.New(), FromID: from, ToID: to, Kind: kind,
		Confidence: 0.9, Weight: 1.0, LastReinforcedAt: now,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func TestTopologyInfersTwoHopConnection(t *testing.T) {
	store := storage.NewMemoryStore()
	a := seedGraphEntity(t, store, "A")
	b := seedGraphEntity(t, store, "B")
	c := seedGraphEntity(t, store, "C")
	seedEdge(t, store, a.ID, b.ID, "manages")
	seedEdge(t, store, b.ID, c.ID, "belongs_to")

	candidates, err := NewTopologyStrategy(store).Detect(context.Background(), []*models.Entity{a, b, c}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	cand := candidates[0]
	assert.Equal(t, a.ID, cand.FromID)
	assert.Equal(t, c.ID, cand.ToID)
	assert.Equal(t, "inferred_connection", cand.Kind)
	assert.Equal(t, 0.5, cand.Confidence)
	assert.Equal(t, 0.4, cand.Importance)
	require.NotNil(t, cand.IntermediateEntityID)
	assert.Equal(t, b.ID, *cand.IntermediateEntityID)
	assert.Equal(t, []string{"manages", "belongs_to"}, cand.IntermediateKinds)
}

func TestTopologySkipsExistingDirectEdge(t *testing.T) {
	store := storage.NewMemoryStore()
	a := seedGraphEntity(t, store, "A")
	b := seedGraphEntity(t, store, "B")
	c := seedGraphEntity(t, store, "C")
	seedEdge(t, store, a.ID, b.ID, "manages")
	seedEdge(t, store, b.ID, c.ID, "belongs_to")
	seedEdge(t, store, a.ID, c.ID, "relates_to")

	candidates, err := NewTopologyStrategy(store).Detect(context.Background(), []*models.Entity{a}, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTopologyIgnoresCyclesBackToSource(t *testing.T) {
	store := storage.NewMemoryStore()
	a := seedGraphEntity(t, store, "A")
	b := seedGraphEntity(t, store, "B")
	seedEdge(t, store, a.ID, b.ID, "relates_to")
	seedEdge(t, store, b.ID, a.ID, "relates_to")

	candidates, err := NewTopologyStrategy(store).Detect(context.Background(), []*models.Entity{a}, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
