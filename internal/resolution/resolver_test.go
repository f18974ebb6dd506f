package resolution

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

func newTestResolver(store storage.Store) *Resolver {
	return NewResolver(store, nil, 0.92, 0.90)
}

func TestResolveCreatesEntityWithSignal(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)
	eventID := uuid.New()

	res, err := r.Resolve(context.Background(), Candidate{
		Title:   "Water OS",
		Type:    models.EntityTypeProduct,
		Summary: "An operating system for water infrastructure",
	}, eventID)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "created", res.Method)
	assert.Equal(t, 1, res.Entity.Metadata.MentionCount)
	assert.Equal(t, []uuid.UUID{eventID}, res.Entity.Metadata.ReferencedByEventIDs)

	sig, err := store.GetSignal(context.Background(), res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, sig.Importance) // product type default
	assert.Equal(t, 1.0, sig.Recency)
}

func TestResolveExactMatchMerges(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)

	first, err := r.Resolve(context.Background(), Candidate{
		Title: "Ryan York", Type: models.EntityTypePerson,
	}, uuid.New())
	require.NoError(t, err)

	secondEvent := uuid.New()
	second, err := r.Resolve(context.Background(), Candidate{
		Title: "ryan york", Type: models.EntityTypePerson,
	}, secondEvent)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, "exact", second.Method)
	assert.Equal(t, first.Entity.ID, second.Entity.ID)
	assert.Equal(t, 2, second.Entity.Metadata.MentionCount)
	assert.Contains(t, second.Entity.Metadata.ReferencedByEventIDs, secondEvent)

	// No second entity row was created.
	n, err := store.CountEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveAliasMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)

	created, err := r.Resolve(context.Background(), Candidate{
		Title:   "Youth Empowerment Through Arts and Humanities",
		Type:    models.EntityTypeOrganization,
		Aliases: []string{"YETAH"},
	}, uuid.New())
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Candidate{
		Title: "YETAH", Type: models.EntityTypeOrganization,
	}, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "alias", res.Method)
	assert.Equal(t, created.Entity.ID, res.Entity.ID)
}

func TestResolveFuzzyMatchSameTypeOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)

	created, err := r.Resolve(context.Background(), Candidate{
		Title: "Executive Director at YETAH", Type: models.EntityTypeRole,
	}, uuid.New())
	require.NoError(t, err)

	// Nearly identical title, same type: merge.
	res, err := r.Resolve(context.Background(), Candidate{
		Title: "Executive  Director at YETAH.", Type: models.EntityTypeRole,
	}, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, created.Entity.ID, res.Entity.ID)

	// Same title, different type: new entity.
	res2, err := r.Resolve(context.Background(), Candidate{
		Title: "Executive Director at YETAH", Type: models.EntityTypeConcept,
	}, uuid.New())
	require.NoError(t, err)
	assert.True(t, res2.Created)
}

func TestResolveAllDedupsWithinEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)
	eventID := uuid.New()

	results, err := r.ResolveAll(context.Background(), []Candidate{
		{Title: "Water OS", Type: models.EntityTypeProduct},
		{Title: "Water OS", Type: models.EntityTypeProduct},
	}, eventID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.Equal(t, "event_dedup", results[1].Method)
	assert.Equal(t, results[0].Entity.ID, results[1].Entity.ID)
}

func TestMergePreservesSummaryAndUnionsAliases(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)

	created, err := r.Resolve(context.Background(), Candidate{
		Title:   "Water OS",
		Type:    models.EntityTypeProduct,
		Summary: "original summary",
	}, uuid.New())
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Candidate{
		Title:   "Water OS",
		Type:    models.EntityTypeProduct,
		Summary: "different summary that must not overwrite",
		Aliases: []string{"WOS"},
	}, uuid.New())
	require.NoError(t, err)

	got, err := store.GetEntity(context.Background(), created.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "original summary", got.Summary)
	assert.Contains(t, got.Metadata.Aliases, "WOS")
	assert.False(t, res.Created)
}

func TestMergeBackfillsDates(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResolver(store)

	_, err := r.Resolve(context.Background(), Candidate{
		Title: "Sabbatical", Type: models.EntityTypeEvent,
	}, uuid.New())
	require.NoError(t, err)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := r.Resolve(context.Background(), Candidate{
		Title:     "Sabbatical",
		Type:      models.EntityTypeEvent,
		StartDate: &start,
	}, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, res.Entity.Metadata.StartDate)
	assert.True(t, res.Entity.Metadata.StartDate.Equal(start))
}
