package mentor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// ChatTurn is one prior conversation turn supplied by the caller; turns
// are not persisted here.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RelationshipContext pairs an edge with the neighbor entity on its far
// side, ready for prompt rendering.
type RelationshipContext struct {
	Edge     *models.Edge
	Neighbor *models.Entity
}

// ContextBundle is the ranked graph context assembled at query time for
// prompt construction. Ordering within each list is stable for identical
// database state and no list exceeds its cap.
type ContextBundle struct {
	CoreIdentity        []*models.Entity
	HighPriority        []storage.ScoredEntity
	ActiveWork          []storage.ScoredEntity
	RelevantEntities    []*models.Entity
	Relationships       []RelationshipContext
	ConversationHistory []ChatTurn
}

// Assembler gathers ranked context for the mentor: core identity, high
// priority and active work entities, keyword matches, and their 1-hop
// neighborhoods.
type Assembler struct {
	store  storage.Store
	cfg    config.MentorConfig
	logger *slog.Logger
}

// NewAssembler creates an assembler over the store.
func NewAssembler(store storage.Store, cfg config.MentorConfig) *Assembler {
	return &Assembler{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "mentor_assembler"),
	}
}

// Assemble builds the context bundle for a chat message or (with an empty
// message) for digest generation.
func (a *Assembler) Assemble(ctx context.Context, message string, history []ChatTurn) (*ContextBundle, error) {
	now := time.Now().UTC()
	bundle := &ContextBundle{ConversationHistory: lastN(history, 5)}

	core, err := a.store.ListEntitiesByType(ctx, models.EntityTypeCoreIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to load core identity entities: %w", err)
	}
	bundle.CoreIdentity = core

	high, err := a.store.TopEntitiesByImportance(ctx, a.cfg.HighPriorityMin, a.cfg.ListCap)
	if err != nil {
		return nil, fmt.Errorf("failed to load high priority entities: %w", err)
	}
	bundle.HighPriority = high

	active, err := a.activeWork(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active work entities: %w", err)
	}
	bundle.ActiveWork = active

	relevant, err := a.relevantEntities(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to load relevant entities: %w", err)
	}
	bundle.RelevantEntities = relevant

	relationships, err := a.neighborhood(ctx, relevant)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	bundle.Relationships = relationships

	a.logger.Debug("context assembled",
		"core_identity", len(bundle.CoreIdentity),
		"high_priority", len(bundle.HighPriority),
		"active_work", len(bundle.ActiveWork),
		"relevant", len(bundle.RelevantEntities),
		"relationships", len(bundle.Relationships))
	return bundle, nil
}

// activeWork selects entities whose materialized (read-time decayed)
// recency clears the threshold. The stored recency is only a write-time
// snapshot, so candidates are over-fetched and re-scored live.
func (a *Assembler) activeWork(ctx context.Context, now time.Time) ([]storage.ScoredEntity, error) {
	candidates, err := a.store.TopEntitiesByRecency(ctx, a.cfg.ListCap*5)
	if err != nil {
		return nil, err
	}
	type scored struct {
		entry   storage.ScoredEntity
		recency float64
	}
	kept := []scored{}
	for _, c := range candidates {
		live := signals.MaterializedRecency(c.Signal, now)
		if live >= a.cfg.ActiveWorkMin {
			kept = append(kept, scored{entry: c, recency: live})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].recency > kept[j].recency })
	if len(kept) > a.cfg.ListCap {
		kept = kept[:a.cfg.ListCap]
	}
	out := make([]storage.ScoredEntity, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.entry)
	}
	return out, nil
}

// relevantEntities unions title-substring matches for each extracted
// keyword, deduplicated by id, capped.
func (a *Assembler) relevantEntities(ctx context.Context, message string) ([]*models.Entity, error) {
	keywords := ExtractKeywords(message)
	if len(keywords) == 0 {
		return nil, nil
	}

	seen := map[uuid.UUID]bool{}
	var out []*models.Entity
	for _, kw := range keywords {
		matches, err := a.store.SearchEntitiesByTitle(ctx, kw, a.cfg.RelevantEntityCap)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
			if len(out) >= a.cfg.RelevantEntityCap {
				return out, nil
			}
		}
	}
	return out, nil
}

// neighborhood collects each relevant entity's outgoing and incoming
// edges (capped per direction) with the neighbor record attached.
func (a *Assembler) neighborhood(ctx context.Context, relevant []*models.Entity) ([]RelationshipContext, error) {
	seenEdges := map[uuid.UUID]bool{}
	var out []RelationshipContext

	for _, entity := range relevant {
		outgoing, err := a.store.ListEdgesFrom(ctx, entity.ID, a.cfg.EdgeLimitPerEntity)
		if err != nil {
			return nil, err
		}
		incoming, err := a.store.ListEdgesTo(ctx, entity.ID, a.cfg.EdgeLimitPerEntity)
		if err != nil {
			return nil, err
		}

		for _, edge := range append(outgoing, incoming...) {
			if seenEdges[edge.ID] {
				continue
			}
			seenEdges[edge.ID] = true

			neighborID := edge.ToID
			if neighborID == entity.ID {
				neighborID = edge.FromID
			}
			neighbor, err := a.store.GetEntity(ctx, neighborID)
			if err != nil {
				a.logger.Warn("edge neighbor missing", "edge_id", edge.ID, "neighbor_id", neighborID)
				continue
			}
			out = append(out, RelationshipContext{Edge: edge, Neighbor: neighbor})
		}
	}
	return out, nil
}

var keywordRe = regexp.MustCompile(`[a-z0-9]+(?:[_-][a-z0-9]+)*`)

// stopWords are filtered out of keyword extraction.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true, "their": true,
	"then": true, "there": true, "these": true, "they": true, "this": true, "to": true,
	"was": true, "will": true, "with": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "how": true, "whats": true, "next": true,
}

// ExtractKeywords returns the stopword-filtered tokens of length > 3 from
// a message, lowercased, order-preserving.
func ExtractKeywords(message string) []string {
	words := keywordRe.FindAllString(strings.ToLower(message), -1)
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if len(w) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func lastN(history []ChatTurn, n int) []ChatTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
