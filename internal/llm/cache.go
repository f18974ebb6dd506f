package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	bolt "go.etcd.io/bbolt"
)

var embeddingBucket = []byte("embeddings")

// CachedEmbedder fronts an Embedder with a bbolt cache keyed by
// (model_id, sha256(text)) so reprocessed chunks never re-hit the API.
type CachedEmbedder struct {
	inner  Embedder
	db     *bolt.DB
	logger *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder opens (or creates) the cache file at path.
func NewCachedEmbedder(inner Embedder, path string) (*CachedEmbedder, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(embeddingBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embedding cache bucket: %w", err)
	}
	return &CachedEmbedder{
		inner:  inner,
		db:     db,
		logger: slog.Default().With("component", "embedding_cache"),
	}, nil
}

func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }

func (c *CachedEmbedder) IsEnabled() bool { return c.inner.IsEnabled() }

// Close closes the underlying cache file.
func (c *CachedEmbedder) Close() error { return c.db.Close() }

func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	var cached []float32
	err := c.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(embeddingBucket).Get(key); raw != nil {
			cached = decodeVector(raw)
		}
		return nil
	})
	if err == nil && cached != nil {
		c.logger.Debug("embedding cache hit", "text_length", len(text))
		return cached, nil
	}

	vector, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddingBucket).Put(key, encodeVector(vector))
	}); err != nil {
		// A cache write failure is not a pipeline failure.
		c.logger.Warn("failed to write embedding cache", "error", err)
	}
	return vector, nil
}

func (c *CachedEmbedder) cacheKey(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelID()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum(nil)
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
