package mentor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

func testMentorConfig() config.MentorConfig {
	return config.MentorConfig{
		HighPriorityMin:      0.7,
		ActiveWorkMin:        0.8,
		ListCap:              10,
		RelevantEntityCap:    10,
		EdgeLimitPerEntity:   5,
		DismissedPatternDays: 30,
	}
}

func seedScored(t *testing.T, store *storage.MemoryStore, title string, typ models.EntityType, importance float64, lastSurfaced time.Time) *models.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := &models.Entity{
		ID: uuid.New(), Title: title, Type: typ,
		Summary:       title + " summary",
		SourceEventID: uuid.New(), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	require.NoError(t, store.CreateSignal(context.Background(), &models.Signal{
		EntityID: e.ID, Importance: importance, Recency: 1.0, Novelty: 1.0,
		LastSurfacedAt: &lastSurfaced, UpdatedAt: now,
	}))
	return e
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    []string
	}{
		{"filters stopwords and short tokens", "What's next for the Feed?", []string{"feed"}},
		{"keeps long tokens", "progress on water infrastructure", []string{"progress", "water", "infrastructure"}},
		{"dedups", "water water water", []string{"water"}},
		{"empty", "", nil},
		{"only stopwords", "the and of", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.message))
		})
	}
}

func TestAssembleCoreAndHighPriority(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	core := seedScored(t, store, "Values", models.EntityTypeCoreIdentity, 1.0, now)
	high := seedScored(t, store, "Water OS", models.EntityTypeProduct, 0.9, now)
	seedScored(t, store, "Old Meeting", models.EntityTypeMeetingNote, 0.5, now)

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "", nil)
	require.NoError(t, err)

	require.Len(t, bundle.CoreIdentity, 1)
	assert.Equal(t, core.ID, bundle.CoreIdentity[0].ID)

	titles := []string{}
	for _, s := range bundle.HighPriority {
		titles = append(titles, s.Entity.Title)
	}
	assert.Contains(t, titles, high.Title)
	assert.NotContains(t, titles, "Old Meeting")

	// Importance descending.
	for i := 1; i < len(bundle.HighPriority); i++ {
		assert.GreaterOrEqual(t,
			bundle.HighPriority[i-1].Signal.Importance,
			bundle.HighPriority[i].Signal.Importance)
	}
}

func TestAssembleActiveWorkUsesMaterializedRecency(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	fresh := seedScored(t, store, "Fresh Project", models.EntityTypeProject, 0.6, now.Add(-2*time.Hour))
	seedScored(t, store, "Stale Project", models.EntityTypeProject, 0.6, now.Add(-120*24*time.Hour))

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "", nil)
	require.NoError(t, err)

	titles := []string{}
	for _, s := range bundle.ActiveWork {
		titles = append(titles, s.Entity.Title)
	}
	assert.Contains(t, titles, fresh.Title)
	assert.NotContains(t, titles, "Stale Project")
}

func TestAssembleListCaps(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < 25; i++ {
		seedScored(t, store, fmt.Sprintf("Project %02d", i), models.EntityTypeProject, 0.9, now)
	}

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "project", nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(bundle.HighPriority), 10)
	assert.LessOrEqual(t, len(bundle.ActiveWork), 10)
	assert.LessOrEqual(t, len(bundle.RelevantEntities), 10)
}

func TestAssembleRelevantEntitiesBySubstring(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	feed := seedScored(t, store, "Feed Ranking Feature", models.EntityTypeFeature, 0.6, now)
	seedScored(t, store, "Unrelated Goal", models.EntityTypeGoal, 0.6, now)

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "What's next for the Feed?", nil)
	require.NoError(t, err)

	require.Len(t, bundle.RelevantEntities, 1)
	assert.Equal(t, feed.ID, bundle.RelevantEntities[0].ID)
}

func TestAssembleNeighborhoodDedupsEdges(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	feedA := seedScored(t, store, "Feed Ranking", models.EntityTypeFeature, 0.6, now)
	feedB := seedScored(t, store, "Feed Backend", models.EntityTypeFeature, 0.6, now)

	require.NoError(t, store.InsertEdge(context.Background(), &models.Edge{
		ID: uuid.New(), FromID: feedA.ID, ToID: feedB.ID, Kind: "relates_to",
		Confidence: 0.8, Weight: 1.0, LastReinforcedAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "feed status", nil)
	require.NoError(t, err)

	// The edge touches both relevant entities but appears once.
	require.Len(t, bundle.RelevantEntities, 2)
	assert.Len(t, bundle.Relationships, 1)
}

func TestAssembleConversationHistoryCapped(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAssembler(store, testMentorConfig())

	history := make([]ChatTurn, 9)
	for i := range history {
		history[i] = ChatTurn{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}
	bundle, err := a.Assemble(context.Background(), "", history)
	require.NoError(t, err)
	require.Len(t, bundle.ConversationHistory, 5)
	assert.Equal(t, "turn 8", bundle.ConversationHistory[4].Content)
}

// A new session with empty history still surfaces recently-active
// entities through active_work: cross-session memory needs no in-session
// continuity.
func TestCrossSessionMemoryThroughActiveWork(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	waterOS := seedScored(t, store, "Water OS", models.EntityTypeProduct, 0.9, now.Add(-time.Hour))

	a := NewAssembler(store, testMentorConfig())
	bundle, err := a.Assemble(context.Background(), "What's next for the Feed?", nil)
	require.NoError(t, err)

	found := false
	for _, s := range bundle.ActiveWork {
		if s.Entity.ID == waterOS.ID {
			found = true
		}
	}
	assert.True(t, found, "active_work should include Water OS without conversation history")
}
