package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/config"
)

// Embedder maps text to fixed-length vectors.
type Embedder struct {
	backend   embeddings.Embedder
	dimension int
	timeout   time.Duration
}

// New wraps a langchaingo embedder. A zero timeout disables the deadline.
func New(backend embeddings.Embedder, dimension int, timeout time.Duration) *Embedder {
	return &Embedder{backend: backend, dimension: dimension, timeout: timeout}
}

// NewFromConfig builds the embedder named by cfg.Provider.
func NewFromConfig(cfg config.LLMConfig) (*Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).Int("dimension", cfg.Dimension).Msg("Creating embedder")

	var (
		backend embeddings.Embedder
		err     error
	)
	switch cfg.Provider {
	case "openai":
		backend, err = newOpenAIEmbedder(cfg)
	case "ollama":
		backend, err = newOllamaEmbedder(cfg)
	case "hash":
		backend = NewHashEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Dimension, cfg.Timeout), nil
}

func newOpenAIEmbedder(cfg config.LLMConfig) (embeddings.Embedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai embeddings: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func newOllamaEmbedder(cfg config.LLMConfig) (embeddings.Embedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embeddings: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the vector for text. Blank text yields the zero vector
// without calling the backend.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimension), nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vec, err := e.backend.EmbedQuery(ctx, text)
	if err != nil {
		return nil, apperr.Upstream("embed query", err)
	}
	if err := e.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedMany embeds texts in one backend call, preserving order and length.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		batch []string
		index []int
	)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, e.dimension)
			continue
		}
		batch = append(batch, t)
		index = append(index, i)
	}
	if len(batch) == 0 {
		return out, nil
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vecs, err := e.backend.EmbedDocuments(ctx, batch)
	if err != nil {
		return nil, apperr.Upstream("embed documents", err)
	}
	if len(vecs) != len(batch) {
		return nil, apperr.Upstream("embed documents", fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vecs)))
	}
	for j, vec := range vecs {
		if err := e.checkDimension(vec); err != nil {
			return nil, err
		}
		out[index[j]] = vec
	}
	return out, nil
}

// Similarity is the cosine similarity of the embeddings of a and b, clamped
// to [0, 1].
func (e *Embedder) Similarity(ctx context.Context, a, b string) (float64, error) {
	vecs, err := e.EmbedMany(ctx, []string{a, b})
	if err != nil {
		return 0, err
	}
	return math.Max(0, math.Min(1, Cosine(vecs[0], vecs[1]))), nil
}

// Func adapts the embedder to the plain function signature used by
// vector stores that embed on their own.
func (e *Embedder) Func() func(ctx context.Context, text string) ([]float32, error) {
	return e.Embed
}

func (e *Embedder) checkDimension(vec []float32) error {
	if e.dimension > 0 && len(vec) != e.dimension {
		return apperr.Upstream("embed", fmt.Errorf("expected dimension %d, got %d", e.dimension, len(vec)))
	}
	return nil
}

func (e *Embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Cosine returns the cosine similarity of a and b. Zero-norm or mismatched
// vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
