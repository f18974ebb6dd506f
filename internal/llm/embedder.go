package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/evan-ryan-york/umg/internal/config"
	umgerrors "github.com/evan-ryan-york/umg/internal/errors"
)

// Embedder produces fixed-dimensional vectors for text. Embeddings are
// optional for pipeline correctness; consumers degrade without them.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	IsEnabled() bool
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	enabled bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder from config; a missing API key
// yields a disabled embedder.
func NewOpenAIEmbedder(cfg config.LLMConfig) *OpenAIEmbedder {
	logger := slog.Default().With("component", "embedder")
	if cfg.APIKey == "" {
		logger.Warn("no LLM API key configured, embedder disabled")
		return &OpenAIEmbedder{logger: logger, model: cfg.EmbeddingModel}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &OpenAIEmbedder{
		api:     openai.NewClient(cfg.APIKey),
		model:   cfg.EmbeddingModel,
		timeout: cfg.EmbeddingTimeout,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		enabled: true,
	}
}

func (e *OpenAIEmbedder) ModelID() string { return e.model }

func (e *OpenAIEmbedder) IsEnabled() bool { return e.enabled }

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !e.enabled {
		return nil, umgerrors.New(umgerrors.KindTransient, "embedder not enabled")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, umgerrors.Transient(err, "embedding request failed")
	}
	if len(resp.Data) == 0 {
		return nil, umgerrors.New(umgerrors.KindTransient, "embedding response empty")
	}
	return resp.Data[0].Embedding, nil
}
