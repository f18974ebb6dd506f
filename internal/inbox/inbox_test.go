package inbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

func TestEnqueueCreatesPendingEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	ib := New(store, 5)

	event, err := ib.Enqueue(context.Background(), models.EventPayload{
		Content: "note", SourceType: "manual",
	}, "api", nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, event.Status)
	assert.Equal(t, "api", event.Source)
}

func TestEnqueueIdempotencyKeyReplays(t *testing.T) {
	store := storage.NewMemoryStore()
	ib := New(store, 5)

	first, err := ib.Enqueue(context.Background(), models.EventPayload{Content: "x"}, "api", nil, "key-1")
	require.NoError(t, err)
	second, err := ib.Enqueue(context.Background(), models.EventPayload{Content: "x"}, "api", nil, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	counts, err := store.EventCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EventStatusPending])
}

func TestClaimPendingFIFO(t *testing.T) {
	store := storage.NewMemoryStore()
	ib := New(store, 5)

	var want []string
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("event-%d", i)
		_, err := ib.Enqueue(context.Background(), models.EventPayload{Content: content}, "api", nil, "")
		require.NoError(t, err)
		want = append(want, content)
	}

	claimed, err := ib.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, ev := range claimed {
		assert.Equal(t, want[i], ev.Payload.Content)
	}
}

func TestRecordFailureBoundedRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	ib := New(store, 2)

	event, err := ib.Enqueue(context.Background(), models.EventPayload{Content: "x"}, "api", nil, "")
	require.NoError(t, err)

	cause := fmt.Errorf("llm timeout")
	require.NoError(t, ib.RecordFailure(context.Background(), event, cause))
	got, _ := store.GetEvent(context.Background(), event.ID)
	assert.Equal(t, models.EventStatusPending, got.Status)
	assert.Equal(t, 1, got.Retries())

	require.NoError(t, ib.RecordFailure(context.Background(), got, cause))
	got, _ = store.GetEvent(context.Background(), event.ID)
	assert.Equal(t, models.EventStatusFailed, got.Status)
	assert.Equal(t, "llm timeout", got.Metadata["failure_reason"])
}

func TestMarkProcessed(t *testing.T) {
	store := storage.NewMemoryStore()
	ib := New(store, 5)

	event, err := ib.Enqueue(context.Background(), models.EventPayload{Content: "x"}, "api", nil, "")
	require.NoError(t, err)
	require.NoError(t, ib.MarkProcessed(context.Background(), event))

	got, err := store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, got.Status)

	// Processed events are no longer claimable.
	claimed, err := ib.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
