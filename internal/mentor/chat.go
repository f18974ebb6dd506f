package mentor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

const chatSource = "mentor_chat"

const chatSystemPrompt = `You are a proactive personal mentor with long-term memory.
You are given context assembled from the user's knowledge graph: who they
are, what matters to them, what they are working on right now, and the
relationships between those things. Ground your answer in that context.
Be concrete and direct; do not invent facts that are not in the context
or the conversation.`

// ChatResult is the mentor's response plus the bookkeeping the API
// contract exposes.
type ChatResult struct {
	Response          string
	UserEventID       uuid.UUID
	AssistantEventID  uuid.UUID
	EntitiesMentioned []string
	ContextUsed       ContextCounts
}

// ContextCounts summarizes how much of each context list fed the prompt.
type ContextCounts struct {
	CoreIdentityCount     int `json:"core_identity_count"`
	HighPriorityCount     int `json:"high_priority_count"`
	ActiveWorkCount       int `json:"active_work_count"`
	RelevantEntitiesCount int `json:"relevant_entities_count"`
	RelationshipsCount    int `json:"relationships_count"`
}

// Mentor answers chat messages and generates daily digests over the
// assembled graph context.
type Mentor struct {
	store     storage.Store
	assembler *Assembler
	completer llm.Completer
	inbox     *inbox.Inbox
	model     string
	logger    *slog.Logger
}

// New creates a mentor.
func New(store storage.Store, assembler *Assembler, completer llm.Completer, ib *inbox.Inbox, model string) *Mentor {
	return &Mentor{
		store:     store,
		assembler: assembler,
		completer: completer,
		inbox:     ib,
		model:     model,
		logger:    slog.Default().With("component", "mentor"),
	}
}

// Model returns the configured chat model id for the status endpoint.
func (m *Mentor) Model() string { return m.model }

// Chat answers one user message. Both the user turn and the assistant
// turn re-enter the event inbox as raw events so the conversation itself
// becomes long-term memory. The user turn is persisted even when the LLM
// call fails. Assistant events are flagged so they can never trigger
// another generation.
func (m *Mentor) Chat(ctx context.Context, message string, history []ChatTurn, userEntityID *uuid.UUID) (*ChatResult, error) {
	userEvent, err := m.inbox.Enqueue(ctx, models.EventPayload{
		Content:    message,
		SourceType: "chat_user",
	}, chatSource, userEntityID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}

	bundle, err := m.assembler.Assemble(ctx, message, history)
	if err != nil {
		return nil, fmt.Errorf("context assembly failed: %w", err)
	}

	response, err := m.completer.Complete(ctx, chatSystemPrompt, renderChatPrompt(bundle, message))
	if err != nil {
		// The user turn stays persisted; only the synchronous response
		// fails.
		return nil, fmt.Errorf("mentor response failed: %w", err)
	}

	assistantEvent, err := m.inbox.Enqueue(ctx, models.EventPayload{
		Content:    response,
		SourceType: "chat_assistant",
		Metadata:   map[string]any{"generated_by": "mentor"},
	}, chatSource, userEntityID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to persist assistant turn: %w", err)
	}

	mentioned := make([]string, 0, len(bundle.RelevantEntities))
	for _, e := range bundle.RelevantEntities {
		mentioned = append(mentioned, e.Title)
	}

	return &ChatResult{
		Response:          response,
		UserEventID:       userEvent.ID,
		AssistantEventID:  assistantEvent.ID,
		EntitiesMentioned: mentioned,
		ContextUsed: ContextCounts{
			CoreIdentityCount:     len(bundle.CoreIdentity),
			HighPriorityCount:     len(bundle.HighPriority),
			ActiveWorkCount:       len(bundle.ActiveWork),
			RelevantEntitiesCount: len(bundle.RelevantEntities),
			RelationshipsCount:    len(bundle.Relationships),
		},
	}, nil
}

// renderChatPrompt flattens the context bundle into prompt text.
func renderChatPrompt(bundle *ContextBundle, message string) string {
	var sb strings.Builder

	writeEntityList := func(header string, entities []*models.Entity) {
		if len(entities) == 0 {
			return
		}
		sb.WriteString(header + "\n")
		for _, e := range entities {
			sb.WriteString(fmt.Sprintf("- %s (%s)", e.Title, e.Type))
			if e.Summary != "" {
				sb.WriteString(": " + e.Summary)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	writeEntityList("Core identity:", bundle.CoreIdentity)

	if len(bundle.HighPriority) > 0 {
		sb.WriteString("High priority:\n")
		for _, s := range bundle.HighPriority {
			sb.WriteString(fmt.Sprintf("- %s (%s, importance %.2f)\n",
				s.Entity.Title, s.Entity.Type, s.Signal.Importance))
		}
		sb.WriteString("\n")
	}
	if len(bundle.ActiveWork) > 0 {
		sb.WriteString("Active work:\n")
		for _, s := range bundle.ActiveWork {
			sb.WriteString(fmt.Sprintf("- %s (%s)", s.Entity.Title, s.Entity.Type))
			if s.Entity.Summary != "" {
				sb.WriteString(": " + s.Entity.Summary)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	writeEntityList("Relevant to this message:", bundle.RelevantEntities)

	if len(bundle.Relationships) > 0 {
		sb.WriteString("Relationships:\n")
		for _, r := range bundle.Relationships {
			sb.WriteString(fmt.Sprintf("- %s --%s--> %s\n",
				shortID(r.Edge.FromID, r, true), r.Edge.Kind, shortID(r.Edge.ToID, r, false)))
		}
		sb.WriteString("\n")
	}

	if len(bundle.ConversationHistory) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, turn := range bundle.ConversationHistory {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("User message:\n")
	sb.WriteString(message)
	return sb.String()
}

// shortID renders an edge endpoint by title when the neighbor record is
// at hand, falling back to the first eight characters of the id.
func shortID(id uuid.UUID, r RelationshipContext, from bool) string {
	if r.Neighbor != nil && r.Neighbor.ID == id {
		return r.Neighbor.Title
	}
	return id.String()[:8]
}
