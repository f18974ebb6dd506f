package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// Candidate is an entity proposal extracted from event text, not yet
// matched against the graph.
type Candidate struct {
	Title     string
	Type      models.EntityType
	Summary   string
	Aliases   []string
	Tags      []string
	StartDate *time.Time
	EndDate   *time.Time
	IsUser    bool
}

// Result reports how a candidate was resolved.
type Result struct {
	Entity  *models.Entity
	Created bool
	// Method is one of "exact", "alias", "fuzzy", "semantic", "created",
	// or "event_dedup" when a second candidate in the same event hit an
	// entity already resolved by an earlier one.
	Method string
}

// Resolver decides create-new vs merge-with-existing for extracted
// candidates. Matching strictness descends: exact title+type, alias,
// normalized fuzzy, semantic. Any fuzzy/semantic subsystem failure falls
// back to create-new — availability over precision.
type Resolver struct {
	store       storage.Store
	embedder    llm.Embedder
	fuzzyRatio  float64
	semanticMin float64
	logger      *slog.Logger
}

// NewResolver creates a resolver. embedder may be nil or disabled; the
// semantic tier is then skipped.
func NewResolver(store storage.Store, embedder llm.Embedder, fuzzyRatio, semanticMin float64) *Resolver {
	return &Resolver{
		store:       store,
		embedder:    embedder,
		fuzzyRatio:  fuzzyRatio,
		semanticMin: semanticMin,
		logger:      slog.Default().With("component", "resolver"),
	}
}

// ResolveAll resolves the candidates of one event in order of appearance.
// Two candidates resolving to the same entity are deterministic: the
// second becomes a no-op merge against the already-updated row.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []Candidate, eventID uuid.UUID) ([]Result, error) {
	seen := map[uuid.UUID]bool{}
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		res, err := r.Resolve(ctx, c, eventID)
		if err != nil {
			r.logger.Warn("candidate resolution failed, skipping",
				"title", c.Title, "type", c.Type, "error", err)
			continue
		}
		if seen[res.Entity.ID] {
			res.Method = "event_dedup"
		}
		seen[res.Entity.ID] = true
		results = append(results, res)
	}
	return results, nil
}

// Resolve matches one candidate, merging into an existing entity or
// creating a new one with its signal row.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, eventID uuid.UUID) (Result, error) {
	// 1. Exact title + type.
	if existing, err := r.store.GetEntityByTitle(ctx, c.Title, c.Type); err == nil {
		return r.merge(ctx, existing, c, eventID, "exact")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("exact match lookup failed: %w", err)
	}

	// 2. Alias match within the same type.
	if existing, err := r.aliasMatch(ctx, c); err != nil {
		return Result{}, err
	} else if existing != nil {
		return r.merge(ctx, existing, c, eventID, "alias")
	}

	// 3. Normalized fuzzy title match.
	if existing := r.fuzzyMatch(ctx, c); existing != nil {
		return r.merge(ctx, existing, c, eventID, "fuzzy")
	}

	// 4. Semantic match on summary embeddings when available.
	if existing := r.semanticMatch(ctx, c); existing != nil {
		return r.merge(ctx, existing, c, eventID, "semantic")
	}

	// 5. Create new.
	entity, err := r.create(ctx, c, eventID)
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: entity, Created: true, Method: "created"}, nil
}

func (r *Resolver) aliasMatch(ctx context.Context, c Candidate) (*models.Entity, error) {
	sameType, err := r.store.ListEntitiesByType(ctx, c.Type)
	if err != nil {
		return nil, fmt.Errorf("alias match listing failed: %w", err)
	}
	for _, e := range sameType {
		for _, alias := range e.Metadata.Aliases {
			if strings.EqualFold(alias, c.Title) {
				return e, nil
			}
		}
	}
	return nil, nil
}

func (r *Resolver) fuzzyMatch(ctx context.Context, c Candidate) *models.Entity {
	sameType, err := r.store.ListEntitiesByType(ctx, c.Type)
	if err != nil {
		r.logger.Warn("fuzzy match listing failed, falling back to create", "error", err)
		return nil
	}
	normalized := NormalizeTitle(c.Title)
	var best *models.Entity
	bestRatio := 0.0
	for _, e := range sameType {
		ratio := LevenshteinRatio(normalized, NormalizeTitle(e.Title))
		if ratio >= r.fuzzyRatio && ratio > bestRatio {
			best = e
			bestRatio = ratio
		}
	}
	return best
}

func (r *Resolver) semanticMatch(ctx context.Context, c Candidate) *models.Entity {
	if r.embedder == nil || !r.embedder.IsEnabled() || c.Summary == "" {
		return nil
	}
	vector, err := r.embedder.EmbedText(ctx, c.Summary)
	if err != nil {
		r.logger.Warn("semantic match embedding failed, falling back to create", "error", err)
		return nil
	}
	typ := c.Type
	matches, err := r.store.SimilarEntities(ctx, vector, r.semanticMin, 1, &typ)
	if err != nil {
		r.logger.Warn("semantic match query failed, falling back to create", "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	r.logger.Debug("semantic match",
		"candidate", c.Title, "matched", matches[0].Entity.Title, "similarity", matches[0].Similarity)
	return matches[0].Entity
}

// merge reinforces an existing entity: mention count, referenced-by list,
// alias union. Summaries are not overwritten.
func (r *Resolver) merge(ctx context.Context, existing *models.Entity, c Candidate, eventID uuid.UUID, method string) (Result, error) {
	existing.Metadata.MentionCount++
	existing.Metadata.ReferencedByEventIDs = appendUnique(existing.Metadata.ReferencedByEventIDs, eventID)
	existing.Metadata.Aliases = unionAliases(existing.Metadata.Aliases, c.Aliases, c.Title, existing.Title)
	if c.IsUser {
		existing.Metadata.IsUserEntity = true
	}
	if existing.Metadata.StartDate == nil && c.StartDate != nil {
		existing.Metadata.StartDate = c.StartDate
	}
	if existing.Metadata.EndDate == nil && c.EndDate != nil {
		existing.Metadata.EndDate = c.EndDate
	}

	if err := r.store.UpdateEntity(ctx, existing); err != nil {
		return Result{}, fmt.Errorf("failed to update entity %s: %w", existing.ID, err)
	}
	r.logger.Debug("candidate merged",
		"title", c.Title, "entity_id", existing.ID, "method", method,
		"mention_count", existing.Metadata.MentionCount)
	return Result{Entity: existing, Created: false, Method: method}, nil
}

func (r *Resolver) create(ctx context.Context, c Candidate, eventID uuid.UUID) (*models.Entity, error) {
	now := time.Now().UTC()
	entity := &models.Entity{
		ID:      uuid.New(),
		Title:   c.Title,
		Type:    c.Type,
		Summary: c.Summary,
		Metadata: models.EntityMetadata{
			Aliases:              c.Aliases,
			Tags:                 c.Tags,
			StartDate:            c.StartDate,
			EndDate:              c.EndDate,
			IsUserEntity:         c.IsUser,
			MentionCount:         1,
			ReferencedByEventIDs: []uuid.UUID{eventID},
		},
		SourceEventID: eventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to create entity %q: %w", c.Title, err)
	}
	if err := r.store.CreateSignal(ctx, signals.InitialSignal(entity, now)); err != nil {
		// Every entity carries exactly one signal row; a conflict means a
		// replay already created it.
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("failed to create signal for %q: %w", c.Title, err)
		}
	}
	r.logger.Info("entity created", "title", c.Title, "type", c.Type, "entity_id", entity.ID)
	return entity, nil
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// unionAliases merges candidate aliases into the existing set. The
// candidate title itself becomes an alias when it differs from the
// canonical title.
func unionAliases(existing, incoming []string, candidateTitle, entityTitle string) []string {
	seen := map[string]bool{}
	for _, a := range existing {
		seen[strings.ToLower(a)] = true
	}
	out := append([]string{}, existing...)
	add := func(alias string) {
		if alias == "" || strings.EqualFold(alias, entityTitle) {
			return
		}
		if !seen[strings.ToLower(alias)] {
			seen[strings.ToLower(alias)] = true
			out = append(out, alias)
		}
	}
	for _, a := range incoming {
		add(a)
	}
	add(candidateTitle)
	return out
}
