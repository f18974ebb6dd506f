package relationship

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// duplicateSuspectThreshold marks same-type pairs so similar they are
// probably the same entity; those are logged for the resolver rather than
// linked here.
const duplicateSuspectThreshold = 0.95

// EmbeddingSimilarityStrategy pairs entities whose summary embeddings sit
// above the similarity threshold.
type EmbeddingSimilarityStrategy struct {
	store     storage.Store
	embedder  llm.Embedder
	threshold float64
	logger    *slog.Logger
}

var _ Strategy = (*EmbeddingSimilarityStrategy)(nil)

func NewEmbeddingSimilarityStrategy(store storage.Store, embedder llm.Embedder, threshold float64) *EmbeddingSimilarityStrategy {
	return &EmbeddingSimilarityStrategy{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		logger:    slog.Default().With("component", "relationship_similarity"),
	}
}

func (s *EmbeddingSimilarityStrategy) Name() string { return "embedding_similarity" }

func (s *EmbeddingSimilarityStrategy) Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error) {
	if s.embedder == nil || !s.embedder.IsEnabled() {
		return nil, fmt.Errorf("similarity strategy unavailable: embedder disabled")
	}
	modelID := s.embedder.ModelID()

	// Load each entity's summary embedding once; entities without one are
	// silently skipped (embeddings are optional for functionality).
	vectors := map[int][]float32{}
	for i, e := range entities {
		emb, err := s.store.EntitySummaryEmbedding(ctx, e.ID, modelID)
		if err != nil {
			continue
		}
		vectors[i] = emb.Vector
	}

	var out []Candidate
	for i := 0; i < len(entities); i++ {
		va, ok := vectors[i]
		if !ok {
			continue
		}
		for j := i + 1; j < len(entities); j++ {
			vb, ok := vectors[j]
			if !ok {
				continue
			}
			sim := storage.CosineSimilarity(va, vb)
			if sim < s.threshold {
				continue
			}
			a, b := entities[i], entities[j]
			if a.Type == b.Type && sim > duplicateSuspectThreshold {
				// Suspected duplicate; the resolver owns merging, not us.
				s.logger.Info("skipping suspected duplicate pair",
					"a", a.Title, "b", b.Title, "similarity", sim)
				continue
			}
			out = append(out, Candidate{
				FromID:         a.ID,
				ToID:           b.ID,
				Kind:           models.EdgeKindSemanticallyRelated,
				Confidence:     sim,
				Importance:     0.5,
				Description:    fmt.Sprintf("Summaries of %q and %q are semantically close", a.Title, b.Title),
				SourceStrategy: s.Name(),
			})
		}
	}
	return out, nil
}
