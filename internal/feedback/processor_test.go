package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

func seedDriver(t *testing.T, store *storage.MemoryStore, title string, typ models.EntityType, importance float64) *models.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := &models.Entity{
		ID: uuid.New(), Title: title, Type: typ,
		SourceEventID: uuid.New(), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	require.NoError(t, store.CreateSignal(context.Background(), &models.Signal{
		EntityID: e.ID, Importance: importance, Recency: 0.5, Novelty: 1.0, UpdatedAt: now,
	}))
	return e
}

func seedInsight(t *testing.T, store *storage.MemoryStore, insightType string, drivers ...uuid.UUID) *models.Insight {
	t.Helper()
	now := time.Now().UTC()
	insight := &models.Insight{
		ID:    uuid.New(),
		Title: "Feed momentum is stalling",
		Body:  "The feed project has gone quiet for two weeks.",
		Drivers: models.InsightDrivers{
			EntityIDs:   drivers,
			InsightType: insightType,
		},
		Status:    models.InsightStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateInsight(context.Background(), insight))
	return insight
}

func TestAcknowledgeBoostsDrivers(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(store, signals.NewScorer(store))
	x := seedDriver(t, store, "X", models.EntityTypeProject, 0.6)
	insight := seedInsight(t, store, models.InsightTypeDeltaWatch, x.ID)

	result, err := p.Acknowledge(context.Background(), insight.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesAdjusted)

	sig, err := store.GetSignal(context.Background(), x.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, sig.Importance, 1e-9)
	assert.Equal(t, 1.0, sig.Recency)

	updated, err := store.GetInsight(context.Background(), insight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusAcknowledged, updated.Status)
}

func TestDismissAdjustsDriversAndRecordsPattern(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(store, signals.NewScorer(store))
	x := seedDriver(t, store, "X", models.EntityTypeProject, 0.6)
	y := seedDriver(t, store, "Y", models.EntityTypeGoal, 0.5)
	insight := seedInsight(t, store, models.InsightTypeDeltaWatch, x.ID, y.ID)

	result, err := p.Dismiss(context.Background(), insight.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesAdjusted)
	assert.True(t, result.PatternRecorded)
	require.NotNil(t, result.Pattern)

	sigX, _ := store.GetSignal(context.Background(), x.ID)
	sigY, _ := store.GetSignal(context.Background(), y.ID)
	assert.InDelta(t, 0.5, sigX.Importance, 1e-9)
	assert.InDelta(t, 0.4, sigY.Importance, 1e-9)

	updated, err := store.GetInsight(context.Background(), insight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, updated.Status)

	assert.ElementsMatch(t,
		[]models.EntityType{models.EntityTypeProject, models.EntityTypeGoal},
		result.Pattern.DriverEntityTypes)
	assert.Equal(t, 1, result.Pattern.DismissedCount)
	assert.NotEmpty(t, result.Pattern.Signature.TitleKeywords)
}

func TestRepeatedDismissalReinforcesPattern(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(store, signals.NewScorer(store))
	x := seedDriver(t, store, "X", models.EntityTypeProject, 0.6)

	first := seedInsight(t, store, models.InsightTypeDeltaWatch, x.ID)
	second := seedInsight(t, store, models.InsightTypeDeltaWatch, x.ID)

	r1, err := p.Dismiss(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, r1.PatternRecorded)

	r2, err := p.Dismiss(context.Background(), second.ID)
	require.NoError(t, err)
	assert.False(t, r2.PatternRecorded, "matching pattern should be reinforced, not duplicated")
	assert.Equal(t, r1.Pattern.ID, r2.Pattern.ID)
	assert.Equal(t, 2, r2.Pattern.DismissedCount)
}

func TestFeedbackOnNonOpenInsightFailsWithoutSideEffects(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(store, signals.NewScorer(store))
	x := seedDriver(t, store, "X", models.EntityTypeProject, 0.6)
	insight := seedInsight(t, store, models.InsightTypePrompt, x.ID)

	_, err := p.Acknowledge(context.Background(), insight.ID)
	require.NoError(t, err)

	// Second feedback of either kind is rejected.
	_, err = p.Dismiss(context.Background(), insight.ID)
	require.Error(t, err)

	sig, getErr := store.GetSignal(context.Background(), x.ID)
	require.NoError(t, getErr)
	assert.InDelta(t, 0.7, sig.Importance, 1e-9, "importance unchanged by rejected feedback")
}

func TestImportanceClampsAtBounds(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(store, signals.NewScorer(store))
	x := seedDriver(t, store, "X", models.EntityTypeProject, 0.05)

	for i := 0; i < 3; i++ {
		insight := seedInsight(t, store, models.InsightTypePrompt, x.ID)
		_, err := p.Dismiss(context.Background(), insight.ID)
		require.NoError(t, err)
	}
	sig, err := store.GetSignal(context.Background(), x.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.Importance)
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"x", "y"}, 1.0},
		{"half", []string{"x", "y"}, []string{"x", "z"}, 1.0 / 3.0},
		{"disjoint", []string{"x"}, []string{"y"}, 0.0},
		{"both empty", nil, nil, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, overlap(tt.a, tt.b), 1e-9)
		})
	}
}
