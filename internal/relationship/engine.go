package relationship

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/evan-ryan-york/umg/internal/archivist"
	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/metrics"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// incrementalQueueSize bounds the in-flight incremental jobs. Overflow is
// dropped with a warning; the nightly pass will cover the same entities.
const incrementalQueueSize = 256

type incrementalJob struct {
	eventID   uuid.UUID
	entityIDs []uuid.UUID
}

// Engine maintains the edge set: multi-strategy detection, Hebbian
// create-or-reinforce commits, nightly decay, and pruning.
type Engine struct {
	store  storage.Store
	scorer *signals.Scorer
	cfg    config.EngineConfig

	incrementalStrategies []Strategy
	fullStrategies        []Strategy

	queue chan incrementalJob
	// commitMu serializes edge commits in-process; the unique constraint
	// on (from_id, to_id, kind) covers cross-process races.
	commitMu sync.Mutex
	logger   *slog.Logger
}

var _ archivist.Trigger = (*Engine)(nil)

// NewEngine wires the engine with its strategy sets. Incremental runs use
// only the two cheap strategies; nightly and on-demand use all five.
func NewEngine(
	store storage.Store,
	scorer *signals.Scorer,
	cfg config.EngineConfig,
	pattern Strategy,
	semanticLLM Strategy,
	similarity Strategy,
	temporal Strategy,
	topology Strategy,
) *Engine {
	return &Engine{
		store:                 store,
		scorer:                scorer,
		cfg:                   cfg,
		incrementalStrategies: []Strategy{pattern, semanticLLM},
		fullStrategies:        []Strategy{pattern, semanticLLM, similarity, temporal, topology},
		queue:                 make(chan incrementalJob, incrementalQueueSize),
		logger:                slog.Default().With("component", "relationship_engine"),
	}
}

// StrategyNames lists the full strategy set for the status endpoint.
func (e *Engine) StrategyNames() []string {
	names := make([]string, 0, len(e.fullStrategies))
	for _, s := range e.fullStrategies {
		names = append(names, s.Name())
	}
	return names
}

// EnqueueIncremental implements the archivist trigger: the event's entity
// snapshot is queued for asynchronous incremental analysis.
func (e *Engine) EnqueueIncremental(eventID uuid.UUID, entityIDs []uuid.UUID) {
	select {
	case e.queue <- incrementalJob{eventID: eventID, entityIDs: entityIDs}:
	default:
		e.logger.Warn("incremental queue full, dropping job; nightly pass will cover it",
			"event_id", eventID)
	}
}

// Start consumes the incremental queue until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-e.queue:
				if _, err := e.RunIncremental(ctx, job.eventID, job.entityIDs); err != nil {
					e.logger.Error("incremental run failed",
						"event_id", job.eventID, "error", err)
				}
			}
		}
	}()
}

// RunIncremental analyzes one event's entities plus their most recent
// neighbors with the cheap strategies. No decay or pruning.
func (e *Engine) RunIncremental(ctx context.Context, eventID uuid.UUID, entityIDs []uuid.UUID) (*RunResult, error) {
	start := time.Now()

	entities, err := e.store.ListEntitiesByIDs(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load event entities: %w", err)
	}
	recent, err := e.store.ListRecentEntities(ctx, e.cfg.IncrementalNeighborLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent entities: %w", err)
	}
	entities = mergeEntitySets(entities, recent)

	rc := &RunContext{Mode: ModeIncremental, EventID: &eventID}
	if event, err := e.store.GetEvent(ctx, eventID); err == nil {
		rc.EventText = archivist.CleanText(event.Payload.Content)
	}

	candidates, used := e.runStrategiesParallel(ctx, e.incrementalStrategies, entities, rc)
	// Commits hold the edge maintenance lock so they never interleave with
	// nightly decay and prune.
	var result *RunResult
	if err := e.store.WithEdgeMaintenanceLock(ctx, func(ctx context.Context) error {
		result = e.commitCandidates(ctx, candidates, &eventID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to acquire edge maintenance lock: %w", err)
	}
	result.Mode = ModeIncremental
	result.EntitiesAnalyzed = len(entities)
	result.StrategiesUsed = used
	result.ProcessingTime = time.Since(start)

	metrics.EngineRunDuration.WithLabelValues(string(ModeIncremental)).Observe(result.ProcessingTime.Seconds())
	e.logger.Info("incremental run completed",
		"event_id", eventID,
		"entities", result.EntitiesAnalyzed,
		"created", result.EdgesCreated,
		"updated", result.EdgesUpdated,
		"duration", result.ProcessingTime.String())
	return result, nil
}

// RunNightly analyzes recently-updated entities (or everything on
// fullScan) with all strategies, then decays and prunes. Decay must finish
// before prune; when decay fails, pruning is skipped because stale weights
// are safer than over-pruning.
func (e *Engine) RunNightly(ctx context.Context, fullScan bool) (*RunResult, error) {
	start := time.Now()
	deadline := start.Add(e.cfg.NightlySoftCap)

	var entities []*models.Entity
	var err error
	if fullScan {
		entities, err = e.store.ListAllEntities(ctx)
	} else {
		entities, err = e.store.ListEntitiesUpdatedSince(ctx, start.Add(-e.cfg.NightlyWindow))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entities for nightly run: %w", err)
	}

	rc := &RunContext{Mode: ModeNightly}
	result := &RunResult{Mode: ModeNightly, EntitiesAnalyzed: len(entities)}

	// Strategies run one at a time so the soft cap can cut between them.
	for _, strategy := range e.fullStrategies {
		if time.Now().After(deadline) {
			e.logger.Warn("nightly soft cap reached, skipping remaining strategies",
				"completed", result.StrategiesUsed)
			break
		}
		candidates, err := e.detectSafely(ctx, strategy, entities, rc)
		if err != nil {
			e.logger.Warn("strategy failed, continuing with remaining strategies",
				"strategy", strategy.Name(), "error", err)
			continue
		}
		partial := e.commitCandidates(ctx, candidates, nil)
		result.EdgesCreated += partial.EdgesCreated
		result.EdgesUpdated += partial.EdgesUpdated
		result.StrategiesUsed = append(result.StrategiesUsed, strategy.Name())
	}

	// Synaptic homeostasis: global decay, then prune, serialized against
	// concurrent incremental commits.
	err = e.store.WithEdgeMaintenanceLock(ctx, func(ctx context.Context) error {
		decayed, err := e.store.DecayEdges(ctx, e.cfg.DecayFactor)
		if err != nil {
			return fmt.Errorf("decay failed, skipping prune: %w", err)
		}
		result.EdgesDecayed = &decayed

		pruned, err := e.store.PruneEdges(ctx, e.cfg.PruneThreshold)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		result.EdgesPruned = &pruned
		metrics.EdgesPruned.Add(float64(pruned))
		return nil
	})
	if err != nil {
		e.logger.Error("nightly maintenance failed", "error", err)
	}

	// Degrees may have changed wholesale; refresh novelty for the
	// analyzed entities.
	for _, entity := range entities {
		if nerr := e.scorer.RecomputeNovelty(ctx, entity.ID); nerr != nil {
			e.logger.Warn("novelty recompute failed", "entity_id", entity.ID, "error", nerr)
		}
	}

	result.ProcessingTime = time.Since(start)
	metrics.EngineRunDuration.WithLabelValues(string(ModeNightly)).Observe(result.ProcessingTime.Seconds())
	e.logger.Info("nightly run completed",
		"entities", result.EntitiesAnalyzed,
		"created", result.EdgesCreated,
		"updated", result.EdgesUpdated,
		"decayed", derefInt64(result.EdgesDecayed),
		"pruned", derefInt64(result.EdgesPruned),
		"duration", result.ProcessingTime.String())
	return result, err
}

// RunOnDemand analyzes the given entities (or all when none are given)
// with all strategies. No decay or pruning.
func (e *Engine) RunOnDemand(ctx context.Context, entityIDs []uuid.UUID) (*RunResult, error) {
	start := time.Now()

	var entities []*models.Entity
	var err error
	if len(entityIDs) == 0 {
		entities, err = e.store.ListAllEntities(ctx)
	} else {
		entities, err = e.store.ListEntitiesByIDs(ctx, entityIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entities for on-demand run: %w", err)
	}

	rc := &RunContext{Mode: ModeOnDemand}
	candidates, used := e.runStrategiesParallel(ctx, e.fullStrategies, entities, rc)
	result := e.commitCandidates(ctx, candidates, nil)
	result.Mode = ModeOnDemand
	result.EntitiesAnalyzed = len(entities)
	result.StrategiesUsed = used
	result.ProcessingTime = time.Since(start)

	metrics.EngineRunDuration.WithLabelValues(string(ModeOnDemand)).Observe(result.ProcessingTime.Seconds())
	return result, nil
}

// runStrategiesParallel executes strategies concurrently. A failing
// strategy is logged and skipped; survivors' candidates are merged and
// sorted so commit order is deterministic.
func (e *Engine) runStrategiesParallel(ctx context.Context, strategies []Strategy, entities []*models.Entity, rc *RunContext) ([]Candidate, []string) {
	var mu sync.Mutex
	var all []Candidate
	var used []string

	g, gctx := errgroup.WithContext(ctx)
	for _, strategy := range strategies {
		strategy := strategy
		g.Go(func() error {
			candidates, err := e.detectSafely(gctx, strategy, entities, rc)
			if err != nil {
				e.logger.Warn("strategy failed, continuing with remaining strategies",
					"strategy", strategy.Name(), "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, candidates...)
			used = append(used, strategy.Name())
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // strategies never return errors; failures are logged above

	sort.Slice(all, func(i, j int) bool {
		if all[i].SourceStrategy != all[j].SourceStrategy {
			return all[i].SourceStrategy < all[j].SourceStrategy
		}
		if all[i].FromID != all[j].FromID {
			return all[i].FromID.String() < all[j].FromID.String()
		}
		if all[i].ToID != all[j].ToID {
			return all[i].ToID.String() < all[j].ToID.String()
		}
		return all[i].Kind < all[j].Kind
	})
	sort.Strings(used)
	return all, used
}

// detectSafely contains strategy panics so one bad strategy cannot take
// down the run.
func (e *Engine) detectSafely(ctx context.Context, strategy Strategy, entities []*models.Entity, rc *RunContext) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r)
		}
	}()
	return strategy.Detect(ctx, entities, rc)
}

// commitCandidates filters candidates and applies the Hebbian
// create-or-reinforce protocol to each survivor. A failed commit on one
// candidate never fails the run.
func (e *Engine) commitCandidates(ctx context.Context, candidates []Candidate, eventID *uuid.UUID) *RunResult {
	result := &RunResult{}
	touched := map[uuid.UUID]bool{}

	for _, c := range candidates {
		if c.Confidence < e.cfg.MinConfidence {
			continue
		}
		if c.FromID == c.ToID || c.FromID == uuid.Nil || c.ToID == uuid.Nil {
			continue
		}

		created, err := e.commitOne(ctx, c, eventID)
		if err != nil {
			e.logger.Warn("edge commit failed",
				"from", c.FromID, "to", c.ToID, "kind", c.Kind, "error", err)
			continue
		}
		if created {
			result.EdgesCreated++
			metrics.EdgesCreated.Inc()
			touched[c.FromID] = true
			touched[c.ToID] = true
		} else {
			result.EdgesUpdated++
			metrics.EdgesReinforced.Inc()
		}
	}

	// Edge degree changed for these entities; refresh novelty.
	for id := range touched {
		if err := e.scorer.RecomputeNovelty(ctx, id); err != nil {
			e.logger.Warn("novelty recompute failed", "entity_id", id, "error", err)
		}
	}
	return result
}

// commitOne performs one create-or-reinforce upsert keyed by
// (from_id, to_id, kind). In shadow mode the write is replaced by a log
// line for parallel-run validation.
func (e *Engine) commitOne(ctx context.Context, c Candidate, eventID *uuid.UUID) (bool, error) {
	if e.cfg.ShadowMode {
		e.logger.Info("shadow mode: edge commit suppressed",
			"from", c.FromID, "to", c.ToID, "kind", c.Kind,
			"confidence", c.Confidence, "strategy", c.SourceStrategy)
		return false, nil
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	now := time.Now().UTC()
	existing, err := e.store.GetEdge(ctx, c.FromID, c.ToID, c.Kind)
	if err == nil {
		return false, e.reinforce(ctx, existing, c, eventID, now)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("edge lookup failed: %w", err)
	}

	edge := &models.Edge{
		ID:               uuid.New(),
		FromID:           c.FromID,
		ToID:             c.ToID,
		Kind:             c.Kind,
		Confidence:       c.Confidence,
		Importance:       c.Importance,
		Description:      c.Description,
		StartDate:        c.StartDate,
		EndDate:          c.EndDate,
		Weight:           1.0,
		LastReinforcedAt: now,
		Metadata: models.EdgeMetadata{
			SourceStrategy:       c.SourceStrategy,
			ReinforcementCount:   0,
			IntermediateEntityID: c.IntermediateEntityID,
			IntermediateKinds:    c.IntermediateKinds,
		},
		SourceEventID: eventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if eventID != nil {
		edge.Metadata.DetectedInEvents = []uuid.UUID{*eventID}
	}

	if err := e.store.InsertEdge(ctx, edge); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Reinforce race: another writer inserted the triple first.
			existing, gerr := e.store.GetEdge(ctx, c.FromID, c.ToID, c.Kind)
			if gerr != nil {
				return false, fmt.Errorf("edge refetch after conflict failed: %w", gerr)
			}
			return false, e.reinforce(ctx, existing, c, eventID, now)
		}
		return false, fmt.Errorf("edge insert failed: %w", err)
	}
	return true, nil
}

func (e *Engine) reinforce(ctx context.Context, edge *models.Edge, c Candidate, eventID *uuid.UUID, now time.Time) error {
	edge.Weight += 1.0
	edge.LastReinforcedAt = now
	if c.Confidence > edge.Confidence {
		edge.Confidence = c.Confidence
	}
	edge.Metadata.ReinforcementCount++
	if eventID != nil {
		edge.Metadata.DetectedInEvents = appendUniqueID(edge.Metadata.DetectedInEvents, *eventID)
	}
	if err := e.store.UpdateEdge(ctx, edge); err != nil {
		return fmt.Errorf("edge reinforce failed: %w", err)
	}
	return nil
}

func appendUniqueID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func mergeEntitySets(primary, secondary []*models.Entity) []*models.Entity {
	seen := map[uuid.UUID]bool{}
	out := make([]*models.Entity, 0, len(primary)+len(secondary))
	for _, e := range primary {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	for _, e := range secondary {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
