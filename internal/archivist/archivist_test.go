package archivist

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/resolution"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// fakeCompleter returns a canned extraction response.
type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return f.CompleteJSON(ctx, system, user)
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) IsEnabled() bool { return true }

// fakeEmbedder produces deterministic pseudo-vectors from the text hash.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(binary.LittleEndian.Uint16(sum[i*2:])) / 65535.0
	}
	return vec, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake-embedding-model" }

func (f *fakeEmbedder) IsEnabled() bool { return true }

// captureTrigger records incremental jobs instead of running an engine.
type captureTrigger struct {
	events   []uuid.UUID
	entities [][]uuid.UUID
}

func (c *captureTrigger) EnqueueIncremental(eventID uuid.UUID, entityIDs []uuid.UUID) {
	c.events = append(c.events, eventID)
	c.entities = append(c.entities, entityIDs)
}

const roleOrgExtraction = `{
  "entities": [
    {"title": "Executive Director at Youth Empowerment Through Arts and Humanities",
     "type": "role",
     "summary": "Led the organization as Executive Director."},
    {"title": "Youth Empowerment Through Arts and Humanities",
     "type": "organization",
     "summary": "A nonprofit teaching arts to young people."}
  ]
}`

func newTestArchivist(store storage.Store, completer *fakeCompleter, trigger Trigger) (*Archivist, *inbox.Inbox) {
	ib := inbox.New(store, 5)
	embedder := &fakeEmbedder{}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	arch := New(
		store, ib,
		NewExtractor(completer),
		resolution.NewResolver(store, nil, 0.92, 0.90),
		signals.NewScorer(store),
		NewChunker(1000, 100),
		embedder,
		trigger,
		10,
		logger,
	)
	return arch, ib
}

func enqueueText(t *testing.T, ib *inbox.Inbox, content string) *models.RawEvent {
	t.Helper()
	ev, err := ib.Enqueue(context.Background(), models.EventPayload{
		Content: content, SourceType: "note",
	}, "test", nil, "")
	require.NoError(t, err)
	return ev
}

func TestProcessEventCreatesEntitiesChunksSignals(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{response: roleOrgExtraction}
	trigger := &captureTrigger{}
	arch, ib := newTestArchivist(store, completer, trigger)

	event := enqueueText(t, ib, "I was Executive Director at Youth Empowerment Through Arts and Humanities.")
	require.NoError(t, arch.ProcessEvent(context.Background(), event))

	// Event transitioned.
	got, err := store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, got.Status)

	// Two entities, each with a signal and at least a summary chunk.
	entities, err := store.ListAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	for _, e := range entities {
		_, err := store.GetSignal(context.Background(), e.ID)
		require.NoError(t, err, "entity %s missing signal", e.Title)

		chunks, err := store.ListChunksByEntity(context.Background(), e.ID)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, 0, chunks[0].Ordinal)
		assert.Equal(t, e.Summary, chunks[0].Text)

		_, err = store.GetEmbedding(context.Background(), chunks[0].ID, "fake-embedding-model")
		require.NoError(t, err, "summary chunk of %s missing embedding", e.Title)
	}

	// The relationship engine trigger fired with the snapshot.
	require.Len(t, trigger.events, 1)
	assert.Equal(t, event.ID, trigger.events[0])
	assert.Len(t, trigger.entities[0], 2)
}

func TestProcessEventIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{response: roleOrgExtraction}
	arch, ib := newTestArchivist(store, completer, &captureTrigger{})

	event := enqueueText(t, ib, "I was Executive Director at Youth Empowerment Through Arts and Humanities.")
	require.NoError(t, arch.ProcessEvent(context.Background(), event))

	countRows := func() (entities, chunks int) {
		es, err := store.ListAllEntities(context.Background())
		require.NoError(t, err)
		for _, e := range es {
			cs, err := store.ListChunksByEntity(context.Background(), e.ID)
			require.NoError(t, err)
			chunks += len(cs)
		}
		return len(es), chunks
	}
	entitiesBefore, chunksBefore := countRows()

	// Replay the same event: no new rows, only counters move.
	require.NoError(t, arch.ProcessEvent(context.Background(), event))
	entitiesAfter, chunksAfter := countRows()
	assert.Equal(t, entitiesBefore, entitiesAfter)
	assert.Equal(t, chunksBefore, chunksAfter)
}

func TestReprocessingSeparateEventsIncrementsMentions(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{response: roleOrgExtraction}
	arch, ib := newTestArchivist(store, completer, &captureTrigger{})

	sentence := "I was Executive Director at Youth Empowerment Through Arts and Humanities."
	first := enqueueText(t, ib, sentence)
	second := enqueueText(t, ib, sentence)
	require.NoError(t, arch.ProcessEvent(context.Background(), first))
	require.NoError(t, arch.ProcessEvent(context.Background(), second))

	entities, err := store.ListAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	for _, e := range entities {
		assert.Equal(t, 2, e.Metadata.MentionCount, "entity %s", e.Title)
		assert.Len(t, e.Metadata.ReferencedByEventIDs, 2)
	}
}

func TestProcessEventExtractionFailureLeavesPending(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{err: fmt.Errorf("llm unavailable")}
	arch, ib := newTestArchivist(store, completer, &captureTrigger{})

	event := enqueueText(t, ib, "some capture")
	err := arch.ProcessEvent(context.Background(), event)
	require.Error(t, err)

	got, getErr := store.GetEvent(context.Background(), event.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.EventStatusPending, got.Status)
}

func TestDrainRecordsFailuresAndRetryExhaustion(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{err: fmt.Errorf("llm unavailable")}
	trigger := &captureTrigger{}
	ib := inbox.New(store, 2)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	arch := New(store, ib, NewExtractor(completer),
		resolution.NewResolver(store, nil, 0.92, 0.90),
		signals.NewScorer(store), NewChunker(1000, 100),
		&fakeEmbedder{}, trigger, 10, logger)

	event := enqueueText(t, ib, "will fail")

	// First drain: retry recorded, still pending.
	result, err := arch.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	got, _ := store.GetEvent(context.Background(), event.ID)
	assert.Equal(t, models.EventStatusPending, got.Status)

	// Second drain exhausts the budget of 2: marked failed.
	_, err = arch.Drain(context.Background())
	require.NoError(t, err)
	got, _ = store.GetEvent(context.Background(), event.ID)
	assert.Equal(t, models.EventStatusFailed, got.Status)
}

func TestDropInvalidEntityType(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &fakeCompleter{response: `{"entities": [
		{"title": "Thing", "type": "spaceship", "summary": "not a valid type"},
		{"title": "Valid Project", "type": "project", "summary": "a project"}
	]}`}
	arch, ib := newTestArchivist(store, completer, &captureTrigger{})

	event := enqueueText(t, ib, "Thing and Valid Project")
	require.NoError(t, arch.ProcessEvent(context.Background(), event))

	entities, err := store.ListAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Valid Project", entities[0].Title)
}
