package archivist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/metrics"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/resolution"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// Trigger receives the per-event entity snapshot once an event finishes,
// feeding the relationship engine's incremental queue. The archivist never
// creates edges itself.
type Trigger interface {
	EnqueueIncremental(eventID uuid.UUID, entityIDs []uuid.UUID)
}

// Archivist drains the event inbox and turns each raw event into entities,
// chunks, embeddings, and signals. Every stage is idempotent so a crashed
// event can be replayed from the start.
type Archivist struct {
	store     storage.Store
	inbox     *inbox.Inbox
	extractor *Extractor
	resolver  *resolution.Resolver
	scorer    *signals.Scorer
	chunker   *Chunker
	embedder  llm.Embedder
	trigger   Trigger
	batchSize int
	logger    *logrus.Logger
}

// New wires the archivist. embedder may be disabled; embedding then
// becomes a no-op stage and retrieval degrades gracefully.
func New(
	store storage.Store,
	ib *inbox.Inbox,
	extractor *Extractor,
	resolver *resolution.Resolver,
	scorer *signals.Scorer,
	chunker *Chunker,
	embedder llm.Embedder,
	trigger Trigger,
	batchSize int,
	logger *logrus.Logger,
) *Archivist {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Archivist{
		store:     store,
		inbox:     ib,
		extractor: extractor,
		resolver:  resolver,
		scorer:    scorer,
		chunker:   chunker,
		embedder:  embedder,
		trigger:   trigger,
		batchSize: batchSize,
		logger:    logger,
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Claimed   int
	Processed int
	Failed    int
	Duration  time.Duration
}

// Drain claims pending events in FIFO order and processes each one.
// Per-event failures record a retry and do not stop the pass.
func (a *Archivist) Drain(ctx context.Context) (*DrainResult, error) {
	start := time.Now()
	events, err := a.inbox.ClaimPending(ctx, a.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending events: %w", err)
	}

	result := &DrainResult{Claimed: len(events)}
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if err := a.ProcessEvent(ctx, event); err != nil {
			result.Failed++
			if recErr := a.inbox.RecordFailure(ctx, event, err); recErr != nil {
				a.logger.WithFields(logrus.Fields{
					"event_id": event.ID,
					"error":    recErr,
				}).Error("failed to record event failure")
			}
			if event.Status == models.EventStatusFailed {
				metrics.EventsFailed.Inc()
			}
			continue
		}
		result.Processed++
		metrics.EventsProcessed.Inc()
	}

	result.Duration = time.Since(start)
	if result.Claimed > 0 {
		a.logger.WithFields(logrus.Fields{
			"claimed":   result.Claimed,
			"processed": result.Processed,
			"failed":    result.Failed,
			"duration":  result.Duration.String(),
		}).Info("Drain pass completed")
	}
	return result, nil
}

// ProcessEvent runs the staged pipeline for one event. On any error the
// event is left pending for replay; stages already completed are
// idempotent under replay.
func (a *Archivist) ProcessEvent(ctx context.Context, event *models.RawEvent) error {
	start := time.Now()
	log := a.logger.WithField("event_id", event.ID)

	// Stage 1: clean.
	cleaned := CleanText(event.Payload.Content)
	if cleaned == "" {
		log.Warn("Event has no usable text, marking processed")
		return a.inbox.MarkProcessed(ctx, event)
	}

	// Stage 2: reference resolution.
	refs, err := BuildReferenceMap(ctx, a.store, cleaned, event.UserEntityID)
	if err != nil {
		return fmt.Errorf("reference resolution failed: %w", err)
	}

	// Stage 3: entity extraction.
	candidates, err := a.extractor.Extract(ctx, cleaned, refs)
	if err != nil {
		return fmt.Errorf("entity extraction failed: %w", err)
	}

	// Stage 4: resolve and persist.
	results, err := a.resolver.ResolveAll(ctx, candidates, event.ID)
	if err != nil {
		return fmt.Errorf("entity resolution failed: %w", err)
	}

	// Stage 5: edge pre-trigger snapshot.
	entityIDs := make([]uuid.UUID, 0, len(results))
	seen := map[uuid.UUID]bool{}
	for _, r := range results {
		if !seen[r.Entity.ID] {
			seen[r.Entity.ID] = true
			entityIDs = append(entityIDs, r.Entity.ID)
		}
		if r.Created {
			metrics.EntitiesCreated.Inc()
		} else {
			metrics.EntitiesMerged.Inc()
		}
	}

	// Stages 6-7: chunk and embed, per entity. Item failures are logged
	// and skipped; successful items stand.
	for _, r := range results {
		if r.Method == "event_dedup" {
			continue
		}
		if err := a.chunkAndEmbed(ctx, r.Entity, cleaned); err != nil {
			log.WithFields(logrus.Fields{
				"entity_id": r.Entity.ID,
				"error":     err,
			}).Warn("Chunking or embedding failed for entity")
		}
	}

	// Stage 8: signal scoring.
	now := time.Now().UTC()
	for _, id := range entityIDs {
		if err := a.scorer.OnMention(ctx, id, now); err != nil {
			log.WithFields(logrus.Fields{
				"entity_id": id,
				"error":     err,
			}).Warn("Signal update failed for entity")
		}
	}

	// Stage 9: relationship engine trigger.
	if a.trigger != nil && len(entityIDs) > 0 {
		a.trigger.EnqueueIncremental(event.ID, entityIDs)
	}

	// Stage 10: finalize.
	if err := a.inbox.MarkProcessed(ctx, event); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"entities": len(entityIDs),
		"duration": time.Since(start).String(),
	}).Info("Event processed")
	return nil
}

// chunkAndEmbed rewrites the entity's chunks keyed by (entity_id, ordinal)
// and generates any embeddings missing under the current model.
func (a *Archivist) chunkAndEmbed(ctx context.Context, entity *models.Entity, cleaned string) error {
	texts := a.chunker.ChunkEntity(entity.Summary,
		ReferencingText(cleaned, entity.Title, entity.Metadata.Aliases))

	chunks := make([]*models.Chunk, 0, len(texts))
	for ordinal, text := range texts {
		chunk, err := a.store.UpsertChunk(ctx, &models.Chunk{
			ID:       uuid.New(),
			EntityID: entity.ID,
			Text:     text,
			Ordinal:  ordinal,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", ordinal, err)
		}
		chunks = append(chunks, chunk)
	}
	// Drop stale tail chunks from a previous, longer rendering.
	if err := a.store.DeleteChunksFrom(ctx, entity.ID, len(texts)); err != nil {
		return fmt.Errorf("failed to trim stale chunks: %w", err)
	}

	if a.embedder == nil || !a.embedder.IsEnabled() {
		return nil
	}
	modelID := a.embedder.ModelID()
	for _, chunk := range chunks {
		if _, err := a.store.GetEmbedding(ctx, chunk.ID, modelID); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check embedding for chunk %s: %w", chunk.ID, err)
		}
		vector, err := a.embedder.EmbedText(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %s: %w", chunk.ID, err)
		}
		if err := a.store.UpsertEmbedding(ctx, &models.Embedding{
			ChunkID: chunk.ID,
			ModelID: modelID,
			Vector:  vector,
		}); err != nil {
			return fmt.Errorf("failed to persist embedding for chunk %s: %w", chunk.ID, err)
		}
		metrics.ChunksEmbedded.Inc()
	}
	return nil
}
