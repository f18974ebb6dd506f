package mentor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

type scriptedCompleter struct {
	responses map[string]string // keyed by substring of the user prompt
	fallback  string
	err       error
}

func (s *scriptedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return s.CompleteJSON(ctx, system, user)
}

func (s *scriptedCompleter) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for needle, response := range s.responses {
		if needle != "" && strings.Contains(user, needle) {
			return response, nil
		}
	}
	return s.fallback, nil
}

func (s *scriptedCompleter) IsEnabled() bool { return true }

func newTestMentor(store *storage.MemoryStore, completer *scriptedCompleter) *Mentor {
	ib := inbox.New(store, 5)
	assembler := NewAssembler(store, testMentorConfig())
	return New(store, assembler, completer, ib, "gpt-4o-mini")
}

func TestChatPersistsBothTurns(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &scriptedCompleter{fallback: "Focus on the Feed rollout this week."}
	m := newTestMentor(store, completer)

	result, err := m.Chat(context.Background(), "What's next for the Feed?", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Focus on the Feed rollout this week.", result.Response)

	userEvent, err := store.GetEvent(context.Background(), result.UserEventID)
	require.NoError(t, err)
	assert.Equal(t, "mentor_chat", userEvent.Source)
	assert.Equal(t, models.EventStatusPending, userEvent.Status)

	assistantEvent, err := store.GetEvent(context.Background(), result.AssistantEventID)
	require.NoError(t, err)
	assert.Equal(t, "mentor_chat", assistantEvent.Source)
	assert.Equal(t, "chat_assistant", assistantEvent.Payload.SourceType)
	// The reentry guard: assistant events carry the generation marker.
	assert.Equal(t, "mentor", assistantEvent.Payload.Metadata["generated_by"])
}

func TestChatLLMFailureStillPersistsUserTurn(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &scriptedCompleter{err: fmt.Errorf("llm down")}
	m := newTestMentor(store, completer)

	_, err := m.Chat(context.Background(), "hello", nil, nil)
	require.Error(t, err)

	counts, err := store.EventCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EventStatusPending])
}

func TestGenerateDigestValidatesDriverIDs(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	entity := seedScored(t, store, "Water OS", models.EntityTypeProduct, 0.9, now)

	response := fmt.Sprintf(`{"title": "Momentum on Water OS",
		"body": "Water OS has been touched daily this week.",
		"driver_entity_ids": ["%s", "00000000-0000-0000-0000-000000000099", "garbage"]}`,
		entity.ID)
	completer := &scriptedCompleter{fallback: response}
	m := newTestMentor(store, completer)

	result, err := m.GenerateDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.InsightsCreated)

	for _, insight := range result.Insights {
		assert.Equal(t, models.InsightStatusOpen, insight.Status)
		// Only the real entity id survived validation.
		require.Len(t, insight.Drivers.EntityIDs, 1)
		assert.Equal(t, entity.ID, insight.Drivers.EntityIDs[0])
	}

	types := map[string]bool{}
	for _, insight := range result.Insights {
		types[insight.Drivers.InsightType] = true
	}
	assert.True(t, types[models.InsightTypeDeltaWatch])
	assert.True(t, types[models.InsightTypeConnection])
	assert.True(t, types[models.InsightTypePrompt])
}

func TestGenerateDigestZeroInsightsIsSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	completer := &scriptedCompleter{fallback: `{"title": "", "body": ""}`}
	m := newTestMentor(store, completer)

	result, err := m.GenerateDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.InsightsCreated)
}
