package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
)

// MemoryStore is an in-memory Store used by the test suite and by local
// experimentation. Cosine similarity is computed in Go. Entity lists follow
// the SQL implementation's ordering, with two exceptions: edge lists come
// back in creation order rather than by weight, and ListEntitiesByIDs keeps
// the order of the ids it is given.
type MemoryStore struct {
	mu sync.RWMutex

	events     map[uuid.UUID]*models.RawEvent
	eventOrder []uuid.UUID
	entities   map[uuid.UUID]*models.Entity
	chunks     map[uuid.UUID]*models.Chunk // by chunk id
	embeddings map[embeddingKey]*models.Embedding
	signals    map[uuid.UUID]*models.Signal
	edges      map[uuid.UUID]*models.Edge
	insights   map[uuid.UUID]*models.Insight
	patterns   map[uuid.UUID]*models.DismissedPattern

	maintenanceMu sync.Mutex
}

type embeddingKey struct {
	chunkID uuid.UUID
	modelID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     map[uuid.UUID]*models.RawEvent{},
		entities:   map[uuid.UUID]*models.Entity{},
		chunks:     map[uuid.UUID]*models.Chunk{},
		embeddings: map[embeddingKey]*models.Embedding{},
		signals:    map[uuid.UUID]*models.Signal{},
		edges:      map[uuid.UUID]*models.Edge{},
		insights:   map[uuid.UUID]*models.Insight{},
		patterns:   map[uuid.UUID]*models.DismissedPattern{},
	}
}

var _ Store = (*MemoryStore)(nil)

// --- events ---

func (s *MemoryStore) CreateEvent(ctx context.Context, event *models.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	cp := *event
	s.events[cp.ID] = &cp
	s.eventOrder = append(s.eventOrder, cp.ID)
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.eventOrder {
		ev := s.events[id]
		if ev.Metadata != nil {
			if k, ok := ev.Metadata["idempotency_key"].(string); ok && k == key {
				cp := *ev
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ClaimPending(ctx context.Context, limit int) ([]*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.RawEvent{}
	for _, id := range s.eventOrder {
		ev := s.events[id]
		if ev.Status != models.EventStatusPending {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, event *models.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; !ok {
		return ErrNotFound
	}
	event.UpdatedAt = time.Now().UTC()
	cp := *event
	s.events[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) EventCounts(ctx context.Context) (map[models.EventStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[models.EventStatus]int{}
	for _, ev := range s.events {
		counts[ev.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) CountProcessedSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.events {
		if ev.Status == models.EventStatusProcessed && ev.UpdatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// --- entities ---

func (s *MemoryStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	cp := *entity
	s.entities[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity.ID]; !ok {
		return ErrNotFound
	}
	entity.UpdatedAt = time.Now().UTC()
	cp := *entity
	s.entities[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) GetEntityByTitle(ctx context.Context, title string, typ models.EntityType) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.sortedEntities() {
		if e.Type == typ && strings.EqualFold(e.Title, title) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListEntitiesByType(ctx context.Context, typ models.EntityType) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Entity{}
	for _, e := range s.sortedEntities() {
		if e.Type == typ {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Entity{}
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentEntities(ctx context.Context, limit int) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := s.sortedEntities()
	sort.SliceStable(es, func(i, j int) bool { return es[i].UpdatedAt.After(es[j].UpdatedAt) })
	if len(es) > limit {
		es = es[:limit]
	}
	out := make([]*models.Entity, 0, len(es))
	for _, e := range es {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListEntitiesUpdatedSince(ctx context.Context, since time.Time) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Entity{}
	for _, e := range s.sortedEntities() {
		if e.UpdatedAt.After(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllEntities(ctx context.Context) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Entity{}
	for _, e := range s.sortedEntities() {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SearchEntitiesByTitle(ctx context.Context, keyword string, limit int) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kw := strings.ToLower(keyword)
	out := []*models.Entity{}
	for _, e := range s.sortedEntities() {
		if strings.Contains(strings.ToLower(e.Title), kw) {
			cp := *e
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) CountEntities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

// sortedEntities returns entities in creation order (by created_at, then id)
// so list queries are stable. Caller must hold the lock.
func (s *MemoryStore) sortedEntities() []*models.Entity {
	es := make([]*models.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
	return es
}

// --- chunks ---

func (s *MemoryStore) UpsertChunk(ctx context.Context, chunk *models.Chunk) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.EntityID == chunk.EntityID && c.Ordinal == chunk.Ordinal {
			c.Text = chunk.Text
			c.Metadata = chunk.Metadata
			cp := *c
			return &cp, nil
		}
	}
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	cp := *chunk
	s.chunks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListChunksByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Chunk{}
	for _, c := range s.chunks {
		if c.EntityID == entityID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) DeleteChunksFrom(ctx context.Context, entityID uuid.UUID, fromOrdinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.EntityID == entityID && c.Ordinal >= fromOrdinal {
			delete(s.chunks, id)
			for k := range s.embeddings {
				if k.chunkID == id {
					delete(s.embeddings, k)
				}
			}
		}
	}
	return nil
}

// --- embeddings ---

func (s *MemoryStore) GetEmbedding(ctx context.Context, chunkID uuid.UUID, modelID string) (*models.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[embeddingKey{chunkID, modelID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *emb
	return &cp, nil
}

func (s *MemoryStore) UpsertEmbedding(ctx context.Context, embedding *models.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *embedding
	s.embeddings[embeddingKey{cp.ChunkID, cp.ModelID}] = &cp
	return nil
}

func (s *MemoryStore) EntitySummaryEmbedding(ctx context.Context, entityID uuid.UUID, modelID string) (*models.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		if c.EntityID == entityID && c.Ordinal == 0 {
			if emb, ok := s.embeddings[embeddingKey{c.ID, modelID}]; ok {
				cp := *emb
				return &cp, nil
			}
			return nil, ErrNotFound
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int, typ *models.EntityType) ([]EntityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := []EntityMatch{}
	for _, c := range s.chunks {
		if c.Ordinal != 0 {
			continue
		}
		entity, ok := s.entities[c.EntityID]
		if !ok {
			continue
		}
		if typ != nil && entity.Type != *typ {
			continue
		}
		var emb *models.Embedding
		for k, e := range s.embeddings {
			if k.chunkID == c.ID {
				emb = e
				break
			}
		}
		if emb == nil {
			continue
		}
		sim := CosineSimilarity(vector, emb.Vector)
		if sim >= minSimilarity {
			cp := *entity
			matches = append(matches, EntityMatch{Entity: &cp, Similarity: sim})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entity.ID.String() < matches[j].Entity.ID.String()
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// CosineSimilarity computes cosine similarity of two vectors, 0 for
// mismatched or zero-length inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- signals ---

func (s *MemoryStore) CreateSignal(ctx context.Context, signal *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[signal.EntityID]; exists {
		return ErrConflict
	}
	cp := *signal
	s.signals[cp.EntityID] = &cp
	return nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, entityID uuid.UUID) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (s *MemoryStore) UpdateSignal(ctx context.Context, signal *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[signal.EntityID]; !ok {
		return ErrNotFound
	}
	signal.UpdatedAt = time.Now().UTC()
	cp := *signal
	s.signals[cp.EntityID] = &cp
	return nil
}

func (s *MemoryStore) TopEntitiesByImportance(ctx context.Context, min float64, limit int) ([]ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ScoredEntity{}
	for _, e := range s.sortedEntities() {
		sig, ok := s.signals[e.ID]
		if !ok || sig.Importance < min {
			continue
		}
		ec, sc := *e, *sig
		out = append(out, ScoredEntity{Entity: &ec, Signal: &sc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Signal.Importance > out[j].Signal.Importance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TopEntitiesByRecency(ctx context.Context, limit int) ([]ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ScoredEntity{}
	for _, e := range s.sortedEntities() {
		sig, ok := s.signals[e.ID]
		if !ok {
			continue
		}
		ec, sc := *e, *sig
		out = append(out, ScoredEntity{Entity: &ec, Signal: &sc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Signal.Recency > out[j].Signal.Recency })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountSignals(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals), nil
}

// --- edges ---

func (s *MemoryStore) InsertEdge(ctx context.Context, edge *models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		if e.FromID == edge.FromID && e.ToID == edge.ToID && e.Kind == edge.Kind {
			return ErrConflict
		}
	}
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	cp := *edge
	s.edges[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateEdge(ctx context.Context, edge *models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[edge.ID]; !ok {
		return ErrNotFound
	}
	edge.UpdatedAt = time.Now().UTC()
	cp := *edge
	s.edges[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEdge(ctx context.Context, from, to uuid.UUID, kind string) (*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.FromID == from && e.ToID == to && e.Kind == kind {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetEdgeByID(ctx context.Context, id uuid.UUID) (*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEdgesFrom(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Edge{}
	for _, e := range s.sortedEdges() {
		if e.FromID == entityID {
			cp := *e
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEdgesTo(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Edge{}
	for _, e := range s.sortedEdges() {
		if e.ToID == entityID {
			cp := *e
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) EdgeExistsBetween(ctx context.Context, from, to uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.FromID == from && e.ToID == to {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountEdgesForEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.edges {
		if e.FromID == entityID || e.ToID == entityID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountEdges(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges), nil
}

func (s *MemoryStore) DecayEdges(ctx context.Context, factor float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, e := range s.edges {
		e.Weight *= factor
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) PruneEdges(ctx context.Context, threshold float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.edges {
		if e.Weight < threshold {
			delete(s.edges, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) WithEdgeMaintenanceLock(ctx context.Context, fn func(ctx context.Context) error) error {
	s.maintenanceMu.Lock()
	defer s.maintenanceMu.Unlock()
	return fn(ctx)
}

func (s *MemoryStore) sortedEdges() []*models.Edge {
	es := make([]*models.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
	return es
}

// --- insights and patterns ---

func (s *MemoryStore) CreateInsight(ctx context.Context, insight *models.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if insight.ID == uuid.Nil {
		insight.ID = uuid.New()
	}
	cp := *insight
	s.insights[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInsight(ctx context.Context, id uuid.UUID) (*models.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.insights[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryStore) UpdateInsight(ctx context.Context, insight *models.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insights[insight.ID]; !ok {
		return ErrNotFound
	}
	insight.UpdatedAt = time.Now().UTC()
	cp := *insight
	s.insights[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pattern.ID == uuid.Nil {
		pattern.ID = uuid.New()
	}
	cp := *pattern
	s.patterns[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateDismissedPattern(ctx context.Context, pattern *models.DismissedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patterns[pattern.ID]; !ok {
		return ErrNotFound
	}
	cp := *pattern
	s.patterns[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDismissedPatterns(ctx context.Context, insightType string, since time.Time) ([]*models.DismissedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.DismissedPattern{}
	for _, p := range s.patterns {
		if p.InsightType == insightType && p.LastDismissedAt.After(since) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastDismissedAt.After(out[j].LastDismissedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
