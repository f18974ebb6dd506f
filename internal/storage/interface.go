package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a unique-constraint violation; edge writers treat
	// it as a reinforce race and retry as an update.
	ErrConflict = errors.New("conflict")
)

// ScoredEntity pairs an entity with its signal row for ranked queries.
type ScoredEntity struct {
	Entity *models.Entity
	Signal *models.Signal
}

// EntityMatch is a vector-similarity hit against entity summary embeddings.
type EntityMatch struct {
	Entity     *models.Entity
	Similarity float64
}

// Store defines the persistence interface over the seven tables. The
// database is the only shared mutable state in the system; everything else
// is constructed per process and immutable.
type Store interface {
	// Raw events
	CreateEvent(ctx context.Context, event *models.RawEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error)
	GetEventByIdempotencyKey(ctx context.Context, key string) (*models.RawEvent, error)
	// ClaimPending returns the oldest pending events in FIFO order. Claiming
	// is not an exclusive lock; correctness comes from pipeline idempotence.
	ClaimPending(ctx context.Context, limit int) ([]*models.RawEvent, error)
	UpdateEvent(ctx context.Context, event *models.RawEvent) error
	EventCounts(ctx context.Context) (map[models.EventStatus]int, error)
	CountProcessedSince(ctx context.Context, since time.Time) (int, error)

	// Entities
	CreateEntity(ctx context.Context, entity *models.Entity) error
	UpdateEntity(ctx context.Context, entity *models.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	GetEntityByTitle(ctx context.Context, title string, typ models.EntityType) (*models.Entity, error)
	ListEntitiesByType(ctx context.Context, typ models.EntityType) ([]*models.Entity, error)
	ListEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error)
	ListRecentEntities(ctx context.Context, limit int) ([]*models.Entity, error)
	ListEntitiesUpdatedSince(ctx context.Context, since time.Time) ([]*models.Entity, error)
	ListAllEntities(ctx context.Context) ([]*models.Entity, error)
	SearchEntitiesByTitle(ctx context.Context, keyword string, limit int) ([]*models.Entity, error)
	CountEntities(ctx context.Context) (int, error)

	// Chunks, keyed by (entity_id, ordinal). Upsert preserves the existing
	// chunk id on overwrite so embeddings stay attached.
	UpsertChunk(ctx context.Context, chunk *models.Chunk) (*models.Chunk, error)
	ListChunksByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Chunk, error)
	DeleteChunksFrom(ctx context.Context, entityID uuid.UUID, fromOrdinal int) error

	// Embeddings, idempotent by (chunk_id, model_id)
	GetEmbedding(ctx context.Context, chunkID uuid.UUID, modelID string) (*models.Embedding, error)
	UpsertEmbedding(ctx context.Context, embedding *models.Embedding) error
	// EntitySummaryEmbedding returns the embedding of the entity's first
	// chunk (ordinal 0), which always holds the summary.
	EntitySummaryEmbedding(ctx context.Context, entityID uuid.UUID, modelID string) (*models.Embedding, error)
	// SimilarEntities runs cosine similarity of vector against entity
	// summary embeddings, filtered to typ when non-nil.
	SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int, typ *models.EntityType) ([]EntityMatch, error)

	// Signals (1:1 with entities)
	CreateSignal(ctx context.Context, signal *models.Signal) error
	GetSignal(ctx context.Context, entityID uuid.UUID) (*models.Signal, error)
	UpdateSignal(ctx context.Context, signal *models.Signal) error
	TopEntitiesByImportance(ctx context.Context, min float64, limit int) ([]ScoredEntity, error)
	TopEntitiesByRecency(ctx context.Context, limit int) ([]ScoredEntity, error)
	CountSignals(ctx context.Context) (int, error)

	// Edges, unique on (from_id, to_id, kind)
	InsertEdge(ctx context.Context, edge *models.Edge) error
	UpdateEdge(ctx context.Context, edge *models.Edge) error
	GetEdge(ctx context.Context, from, to uuid.UUID, kind string) (*models.Edge, error)
	GetEdgeByID(ctx context.Context, id uuid.UUID) (*models.Edge, error)
	ListEdgesFrom(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error)
	ListEdgesTo(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error)
	EdgeExistsBetween(ctx context.Context, from, to uuid.UUID) (bool, error)
	CountEdgesForEntity(ctx context.Context, entityID uuid.UUID) (int, error)
	CountEdges(ctx context.Context) (int, error)
	// DecayEdges multiplies every edge weight by factor; PruneEdges deletes
	// edges below threshold. Both run inside WithEdgeMaintenanceLock.
	DecayEdges(ctx context.Context, factor float64) (int64, error)
	PruneEdges(ctx context.Context, threshold float64) (int64, error)
	// WithEdgeMaintenanceLock serializes decay/prune against concurrent
	// incremental runs (advisory lock in postgres, mutex in memory).
	WithEdgeMaintenanceLock(ctx context.Context, fn func(ctx context.Context) error) error

	// Insights and dismissed patterns
	CreateInsight(ctx context.Context, insight *models.Insight) error
	GetInsight(ctx context.Context, id uuid.UUID) (*models.Insight, error)
	UpdateInsight(ctx context.Context, insight *models.Insight) error
	CreateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error
	UpdateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error
	ListDismissedPatterns(ctx context.Context, insightType string, since time.Time) ([]*models.DismissedPattern, error)

	Close() error
}
