package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/evan-ryan-york/umg/internal/models"
)

// edgeMaintenanceLockID keys the advisory lock serializing decay and prune
// against concurrent incremental edge commits.
const edgeMaintenanceLockID = 7741

// PostgresStore implements Store over a pgx connection pool with pgvector
// for embedding similarity.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and verifies
// connectivity before returning.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger := slog.Default().With("component", "postgres")
	logger.Info("postgres store connected")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	s.logger.Info("postgres store closed")
	return nil
}

// HealthCheck verifies database connectivity.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// --- events ---

const eventColumns = "id, payload, source, status, metadata, user_entity_id, created_at, updated_at"

func (s *PostgresStore) scanEvent(row pgx.Row) (*models.RawEvent, error) {
	var ev models.RawEvent
	var payload, metadata []byte
	err := row.Scan(&ev.ID, &payload, &ev.Source, &ev.Status, &metadata, &ev.UserEntityID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode event metadata: %w", err)
	}
	return &ev, nil
}

func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.RawEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO raw_events (id, payload, source, status, metadata, user_entity_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, payload, event.Source, event.Status, metadata, event.UserEntityID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM raw_events WHERE id = $1", id)
	return s.scanEvent(row)
}

func (s *PostgresStore) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.RawEvent, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM raw_events WHERE metadata ->> 'idempotency_key' = $1", key)
	return s.scanEvent(row)
}

func (s *PostgresStore) ClaimPending(ctx context.Context, limit int) ([]*models.RawEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM raw_events WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RawEvent
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, event *models.RawEvent) error {
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE raw_events SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		event.ID, event.Status, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) EventCounts(ctx context.Context) (map[models.EventStatus]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT status, count(*) FROM raw_events GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.EventStatus]int{}
	for rows.Next() {
		var status models.EventStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CountProcessedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM raw_events WHERE status = 'processed' AND updated_at > $1", since).Scan(&n)
	return n, err
}

// --- entities ---

const entityColumns = "id, title, type, summary, metadata, source_event_id, created_at, updated_at"

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var metadata []byte
	err := row.Scan(&e.ID, &e.Title, &e.Type, &e.Summary, &metadata, &e.SourceEventID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) scanEntities(rows pgx.Rows) ([]*models.Entity, error) {
	defer rows.Close()
	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	metadata, err := marshalJSON(entity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode entity metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (id, title, type, summary, metadata, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entity.ID, entity.Title, entity.Type, entity.Summary, metadata, entity.SourceEventID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	metadata, err := marshalJSON(entity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode entity metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE entities SET title = $2, type = $3, summary = $4, metadata = $5, updated_at = now()
		WHERE id = $1`,
		entity.ID, entity.Title, entity.Type, entity.Summary, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return scanEntity(s.pool.QueryRow(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = $1", id))
}

func (s *PostgresStore) GetEntityByTitle(ctx context.Context, title string, typ models.EntityType) (*models.Entity, error) {
	return scanEntity(s.pool.QueryRow(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE lower(title) = lower($1) AND type = $2 ORDER BY created_at ASC LIMIT 1",
		title, typ))
}

func (s *PostgresStore) ListEntitiesByType(ctx context.Context, typ models.EntityType) ([]*models.Entity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE type = $1 ORDER BY created_at ASC", typ)
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) ListEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ANY($1) ORDER BY created_at ASC", ids)
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) ListRecentEntities(ctx context.Context, limit int) ([]*models.Entity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities ORDER BY updated_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) ListEntitiesUpdatedSince(ctx context.Context, since time.Time) ([]*models.Entity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE updated_at > $1 ORDER BY created_at ASC", since)
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) ListAllEntities(ctx context.Context) ([]*models.Entity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) SearchEntitiesByTitle(ctx context.Context, keyword string, limit int) ([]*models.Entity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE title ILIKE '%' || $1 || '%' ORDER BY created_at ASC LIMIT $2",
		keyword, limit)
	if err != nil {
		return nil, err
	}
	return s.scanEntities(rows)
}

func (s *PostgresStore) CountEntities(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM entities").Scan(&n)
	return n, err
}

// --- chunks ---

func (s *PostgresStore) UpsertChunk(ctx context.Context, chunk *models.Chunk) (*models.Chunk, error) {
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	metadata, err := marshalJSON(chunk.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk metadata: %w", err)
	}
	// On conflict the existing row id is preserved so embeddings stay
	// attached to the chunk.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chunks (id, entity_id, text, ordinal, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, ordinal)
		DO UPDATE SET text = EXCLUDED.text, metadata = EXCLUDED.metadata
		RETURNING id, entity_id, text, ordinal, metadata, created_at`,
		chunk.ID, chunk.EntityID, chunk.Text, chunk.Ordinal, metadata)

	var out models.Chunk
	var md []byte
	if err := row.Scan(&out.ID, &out.EntityID, &out.Text, &out.Ordinal, &md, &out.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(md, &out.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) ListChunksByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, text, ordinal, metadata, created_at
		FROM chunks WHERE entity_id = $1 ORDER BY ordinal ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var md []byte
		if err := rows.Scan(&c.ID, &c.EntityID, &c.Text, &c.Ordinal, &md, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(md, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunksFrom(ctx context.Context, entityID uuid.UUID, fromOrdinal int) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM chunks WHERE entity_id = $1 AND ordinal >= $2", entityID, fromOrdinal)
	return err
}

// --- embeddings ---

func (s *PostgresStore) GetEmbedding(ctx context.Context, chunkID uuid.UUID, modelID string) (*models.Embedding, error) {
	var emb models.Embedding
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT chunk_id, model_id, vector, created_at
		FROM embeddings WHERE chunk_id = $1 AND model_id = $2`, chunkID, modelID).
		Scan(&emb.ChunkID, &emb.ModelID, &vec, &emb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}

func (s *PostgresStore) UpsertEmbedding(ctx context.Context, embedding *models.Embedding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embeddings (chunk_id, model_id, vector)
		VALUES ($1, $2, $3)
		ON CONFLICT (chunk_id, model_id) DO UPDATE SET vector = EXCLUDED.vector`,
		embedding.ChunkID, embedding.ModelID, pgvector.NewVector(embedding.Vector))
	return err
}

func (s *PostgresStore) EntitySummaryEmbedding(ctx context.Context, entityID uuid.UUID, modelID string) (*models.Embedding, error) {
	var emb models.Embedding
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT e.chunk_id, e.model_id, e.vector, e.created_at
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.entity_id = $1 AND c.ordinal = 0 AND e.model_id = $2`, entityID, modelID).
		Scan(&emb.ChunkID, &emb.ModelID, &vec, &emb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}

func (s *PostgresStore) SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int, typ *models.EntityType) ([]EntityMatch, error) {
	query := `
		SELECT ` + prefixedEntityColumns("en") + `, 1 - (emb.vector <=> $1) AS similarity
		FROM embeddings emb
		JOIN chunks c ON c.id = emb.chunk_id AND c.ordinal = 0
		JOIN entities en ON en.id = c.entity_id
		WHERE 1 - (emb.vector <=> $1) >= $2`
	args := []any{pgvector.NewVector(vector), minSimilarity}
	if typ != nil {
		query += " AND en.type = $3 ORDER BY similarity DESC LIMIT $4"
		args = append(args, *typ, limit)
	} else {
		query += " ORDER BY similarity DESC LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var e models.Entity
		var metadata []byte
		var sim float64
		if err := rows.Scan(&e.ID, &e.Title, &e.Type, &e.Summary, &metadata, &e.SourceEventID, &e.CreatedAt, &e.UpdatedAt, &sim); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
		}
		out = append(out, EntityMatch{Entity: &e, Similarity: sim})
	}
	return out, rows.Err()
}

func prefixedEntityColumns(prefix string) string {
	return prefix + ".id, " + prefix + ".title, " + prefix + ".type, " + prefix + ".summary, " +
		prefix + ".metadata, " + prefix + ".source_event_id, " + prefix + ".created_at, " + prefix + ".updated_at"
}

// --- signals ---

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var sig models.Signal
	err := row.Scan(&sig.EntityID, &sig.Importance, &sig.Recency, &sig.Novelty, &sig.LastSurfacedAt, &sig.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sig, nil
}

func (s *PostgresStore) CreateSignal(ctx context.Context, signal *models.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signals (entity_id, importance, recency, novelty, last_surfaced_at)
		VALUES ($1, $2, $3, $4, $5)`,
		signal.EntityID, signal.Importance, signal.Recency, signal.Novelty, signal.LastSurfacedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetSignal(ctx context.Context, entityID uuid.UUID) (*models.Signal, error) {
	return scanSignal(s.pool.QueryRow(ctx, `
		SELECT entity_id, importance, recency, novelty, last_surfaced_at, updated_at
		FROM signals WHERE entity_id = $1`, entityID))
}

func (s *PostgresStore) UpdateSignal(ctx context.Context, signal *models.Signal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET importance = $2, recency = $3, novelty = $4, last_surfaced_at = $5, updated_at = now()
		WHERE entity_id = $1`,
		signal.EntityID, signal.Importance, signal.Recency, signal.Novelty, signal.LastSurfacedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanScoredEntities(rows pgx.Rows) ([]ScoredEntity, error) {
	defer rows.Close()
	var out []ScoredEntity
	for rows.Next() {
		var e models.Entity
		var metadata []byte
		var sig models.Signal
		err := rows.Scan(&e.ID, &e.Title, &e.Type, &e.Summary, &metadata, &e.SourceEventID, &e.CreatedAt, &e.UpdatedAt,
			&sig.EntityID, &sig.Importance, &sig.Recency, &sig.Novelty, &sig.LastSurfacedAt, &sig.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
		}
		out = append(out, ScoredEntity{Entity: &e, Signal: &sig})
	}
	return out, rows.Err()
}

const scoredColumns = `en.id, en.title, en.type, en.summary, en.metadata, en.source_event_id, en.created_at, en.updated_at,
	s.entity_id, s.importance, s.recency, s.novelty, s.last_surfaced_at, s.updated_at`

func (s *PostgresStore) TopEntitiesByImportance(ctx context.Context, min float64, limit int) ([]ScoredEntity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scoredColumns+`
		FROM entities en JOIN signals s ON s.entity_id = en.id
		WHERE s.importance >= $1
		ORDER BY s.importance DESC, en.created_at ASC LIMIT $2`, min, limit)
	if err != nil {
		return nil, err
	}
	return s.scanScoredEntities(rows)
}

func (s *PostgresStore) TopEntitiesByRecency(ctx context.Context, limit int) ([]ScoredEntity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scoredColumns+`
		FROM entities en JOIN signals s ON s.entity_id = en.id
		ORDER BY s.recency DESC, en.created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return s.scanScoredEntities(rows)
}

func (s *PostgresStore) CountSignals(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM signals").Scan(&n)
	return n, err
}

// --- edges ---

const edgeColumns = `id, from_id, to_id, kind, confidence, importance, description, start_date, end_date,
	weight, last_reinforced_at, metadata, source_event_id, created_at, updated_at`

func scanEdge(row pgx.Row) (*models.Edge, error) {
	var e models.Edge
	var metadata []byte
	err := row.Scan(&e.ID, &e.FromID, &e.ToID, &e.Kind, &e.Confidence, &e.Importance, &e.Description,
		&e.StartDate, &e.EndDate, &e.Weight, &e.LastReinforcedAt, &metadata, &e.SourceEventID,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode edge metadata: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) scanEdges(rows pgx.Rows) ([]*models.Edge, error) {
	defer rows.Close()
	var out []*models.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEdge(ctx context.Context, edge *models.Edge) error {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	metadata, err := marshalJSON(edge.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode edge metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO edges (id, from_id, to_id, kind, confidence, importance, description,
			start_date, end_date, weight, last_reinforced_at, metadata, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		edge.ID, edge.FromID, edge.ToID, edge.Kind, edge.Confidence, edge.Importance, edge.Description,
		edge.StartDate, edge.EndDate, edge.Weight, edge.LastReinforcedAt, metadata, edge.SourceEventID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) UpdateEdge(ctx context.Context, edge *models.Edge) error {
	metadata, err := marshalJSON(edge.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode edge metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE edges SET confidence = $2, importance = $3, description = $4, start_date = $5,
			end_date = $6, weight = $7, last_reinforced_at = $8, metadata = $9, updated_at = now()
		WHERE id = $1`,
		edge.ID, edge.Confidence, edge.Importance, edge.Description, edge.StartDate,
		edge.EndDate, edge.Weight, edge.LastReinforcedAt, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEdge(ctx context.Context, from, to uuid.UUID, kind string) (*models.Edge, error) {
	return scanEdge(s.pool.QueryRow(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE from_id = $1 AND to_id = $2 AND kind = $3",
		from, to, kind))
}

func (s *PostgresStore) GetEdgeByID(ctx context.Context, id uuid.UUID) (*models.Edge, error) {
	return scanEdge(s.pool.QueryRow(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE id = $1", id))
}

func (s *PostgresStore) ListEdgesFrom(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE from_id = $1 ORDER BY weight DESC, created_at ASC LIMIT $2",
		entityID, limit)
	if err != nil {
		return nil, err
	}
	return s.scanEdges(rows)
}

func (s *PostgresStore) ListEdgesTo(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE to_id = $1 ORDER BY weight DESC, created_at ASC LIMIT $2",
		entityID, limit)
	if err != nil {
		return nil, err
	}
	return s.scanEdges(rows)
}

func (s *PostgresStore) EdgeExistsBetween(ctx context.Context, from, to uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM edges WHERE from_id = $1 AND to_id = $2)", from, to).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) CountEdgesForEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM edges WHERE from_id = $1 OR to_id = $1", entityID).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountEdges(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM edges").Scan(&n)
	return n, err
}

func (s *PostgresStore) DecayEdges(ctx context.Context, factor float64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE edges SET weight = weight * $1, updated_at = now()", factor)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PruneEdges(ctx context.Context, threshold float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM edges WHERE weight < $1", threshold)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) WithEdgeMaintenanceLock(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for maintenance lock: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", edgeMaintenanceLockID); err != nil {
		return fmt.Errorf("failed to acquire edge maintenance lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", edgeMaintenanceLockID); err != nil {
			s.logger.Warn("failed to release edge maintenance lock", "error", err)
		}
	}()

	return fn(ctx)
}

// --- insights and patterns ---

func (s *PostgresStore) CreateInsight(ctx context.Context, insight *models.Insight) error {
	if insight.ID == uuid.Nil {
		insight.ID = uuid.New()
	}
	drivers, err := marshalJSON(insight.Drivers)
	if err != nil {
		return fmt.Errorf("failed to encode insight drivers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO insights (id, title, body, drivers, status) VALUES ($1, $2, $3, $4, $5)`,
		insight.ID, insight.Title, insight.Body, drivers, insight.Status)
	return err
}

func (s *PostgresStore) GetInsight(ctx context.Context, id uuid.UUID) (*models.Insight, error) {
	var in models.Insight
	var drivers []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, body, drivers, status, created_at, updated_at FROM insights WHERE id = $1`, id).
		Scan(&in.ID, &in.Title, &in.Body, &drivers, &in.Status, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(drivers, &in.Drivers); err != nil {
		return nil, fmt.Errorf("failed to decode insight drivers: %w", err)
	}
	return &in, nil
}

func (s *PostgresStore) UpdateInsight(ctx context.Context, insight *models.Insight) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE insights SET status = $2, updated_at = now() WHERE id = $1",
		insight.ID, insight.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error {
	if pattern.ID == uuid.Nil {
		pattern.ID = uuid.New()
	}
	types, err := marshalJSON(pattern.DriverEntityTypes)
	if err != nil {
		return fmt.Errorf("failed to encode driver entity types: %w", err)
	}
	sig, err := marshalJSON(pattern.Signature)
	if err != nil {
		return fmt.Errorf("failed to encode pattern signature: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dismissed_patterns (id, insight_type, driver_entity_types, pattern_signature,
			dismissed_count, first_dismissed_at, last_dismissed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pattern.ID, pattern.InsightType, types, sig, pattern.DismissedCount,
		pattern.FirstDismissedAt, pattern.LastDismissedAt)
	return err
}

func (s *PostgresStore) UpdateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dismissed_patterns SET dismissed_count = $2, last_dismissed_at = $3 WHERE id = $1`,
		pattern.ID, pattern.DismissedCount, pattern.LastDismissedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDismissedPatterns(ctx context.Context, insightType string, since time.Time) ([]*models.DismissedPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, insight_type, driver_entity_types, pattern_signature, dismissed_count,
			first_dismissed_at, last_dismissed_at
		FROM dismissed_patterns
		WHERE insight_type = $1 AND last_dismissed_at > $2
		ORDER BY last_dismissed_at DESC`, insightType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DismissedPattern
	for rows.Next() {
		var p models.DismissedPattern
		var types, sig []byte
		if err := rows.Scan(&p.ID, &p.InsightType, &types, &sig, &p.DismissedCount,
			&p.FirstDismissedAt, &p.LastDismissedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(types, &p.DriverEntityTypes); err != nil {
			return nil, fmt.Errorf("failed to decode driver entity types: %w", err)
		}
		if err := json.Unmarshal(sig, &p.Signature); err != nil {
			return nil, fmt.Errorf("failed to decode pattern signature: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
