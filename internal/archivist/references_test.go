package archivist

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

func seedEntity(t *testing.T, store *storage.MemoryStore, title string, typ models.EntityType, isUser bool) *models.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := &models.Entity{
		ID:            uuid.New(),
		Title:         title,
		Type:          typ,
		Metadata:      models.EntityMetadata{IsUserEntity: isUser, MentionCount: 1},
		SourceEventID: uuid.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e
}

func TestReferenceMapPinsFirstPersonToUserEntity(t *testing.T) {
	store := storage.NewMemoryStore()
	user := seedEntity(t, store, "Ryan York", models.EntityTypePerson, true)

	rm, err := BuildReferenceMap(context.Background(), store, "I am starting something new.", nil)
	require.NoError(t, err)

	id, ok := rm.Lookup("I")
	assert.True(t, ok)
	assert.Equal(t, user.ID, id)

	id, ok = rm.Lookup("my")
	assert.True(t, ok)
	assert.Equal(t, user.ID, id)
}

func TestReferenceMapExplicitUserEntityWins(t *testing.T) {
	store := storage.NewMemoryStore()
	seedEntity(t, store, "Someone Else", models.EntityTypePerson, true)
	explicit := seedEntity(t, store, "Ryan York", models.EntityTypePerson, false)

	rm, err := BuildReferenceMap(context.Background(), store, "my plans", &explicit.ID)
	require.NoError(t, err)

	id, ok := rm.Lookup("my")
	require.True(t, ok)
	assert.Equal(t, explicit.ID, id)
}

func TestReferenceMapBindsShortNames(t *testing.T) {
	store := storage.NewMemoryStore()
	entity := seedEntity(t, store, "Water OS", models.EntityTypeProduct, false)

	rm, err := BuildReferenceMap(context.Background(), store, "Shipped the Water roadmap today.", nil)
	require.NoError(t, err)

	id, ok := rm.Lookup("water")
	require.True(t, ok)
	assert.Equal(t, entity.ID, id)

	// Prompt rendering is deterministic.
	lines := rm.PromptLines()
	assert.NotEmpty(t, lines)
}

func TestReferenceMapNoUserNoPronouns(t *testing.T) {
	store := storage.NewMemoryStore()
	rm, err := BuildReferenceMap(context.Background(), store, "I did things.", nil)
	require.NoError(t, err)
	_, ok := rm.Lookup("i")
	assert.False(t, ok)
}
