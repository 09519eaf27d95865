// Package embedder turns chunk and query text into vectors through a lazily
// created embedding provider.
package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// Factory creates the embedding provider for a model name.
type Factory func(model string) (llm.EmbeddingProvider, error)

// Result holds one vector per kept input. Indices[i] is the position in the
// original input of Vectors[i]; blank inputs are never kept.
type Result struct {
	Vectors [][]float32
	Indices []int
}

// Empty reports the fail-soft sentinel: nothing could be embedded.
func (r Result) Empty() bool {
	return len(r.Vectors) == 0
}

// Dimension returns the vector length, or 0 for an empty result.
func (r Result) Dimension() int {
	if r.Empty() {
		return 0
	}
	return len(r.Vectors[0])
}

// Embedder is safe for concurrent use. The provider is created on first use
// and recreated after UpdateModel.
type Embedder struct {
	factory Factory

	mu       sync.Mutex
	model    string
	provider llm.EmbeddingProvider
}

// New creates an Embedder. No provider is created until the first call.
func New(model string, factory Factory) *Embedder {
	return &Embedder{model: model, factory: factory}
}

// Static wraps an existing provider; UpdateModel has no effect on it.
func Static(p llm.EmbeddingProvider) *Embedder {
	return New(p.Name(), func(string) (llm.EmbeddingProvider, error) { return p, nil })
}

// Model returns the configured model name.
func (e *Embedder) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// UpdateModel switches to another model. The cached provider is dropped and
// the next call creates a new one.
func (e *Embedder) UpdateModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if model == "" || model == e.model {
		return
	}
	e.model = model
	e.provider = nil
	logger.Infow("embedding model updated", "model", model)
}

func (e *Embedder) load() (llm.EmbeddingProvider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.provider != nil {
		return e.provider, nil
	}
	p, err := e.factory(e.model)
	if err != nil {
		return nil, fmt.Errorf("load embedding model %s: %w", e.model, err)
	}
	e.provider = p
	logger.Infow("embedding model loaded", "model", e.model, "provider", p.Name())
	return p, nil
}

// Embed encodes texts. Blank texts are skipped; use Result.Indices to pair
// vectors back with inputs. Any backend failure yields an empty Result.
func (e *Embedder) Embed(ctx context.Context, texts []string) Result {
	kept := make([]string, 0, len(texts))
	indices := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		kept = append(kept, t)
		indices = append(indices, i)
	}
	if len(kept) == 0 {
		return Result{}
	}

	p, err := e.load()
	if err != nil {
		logger.Errorw("embedding backend unavailable", "error", err.Error())
		return Result{}
	}

	vectors, err := p.Embed(ctx, kept)
	if err != nil {
		logger.Errorw("failed to generate embeddings", "count", len(kept), "error", err.Error())
		return Result{}
	}
	if err := checkVectors(vectors, len(kept)); err != nil {
		logger.Errorw("embedding backend returned malformed vectors", "error", err.Error())
		return Result{}
	}
	return Result{Vectors: vectors, Indices: indices}
}

// EmbedQuery encodes a single query. It returns nil when the query is blank
// or the backend fails.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) []float32 {
	res := e.Embed(ctx, []string{query})
	if res.Empty() {
		return nil
	}
	return res.Vectors[0]
}

func checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("expected %d vectors, got %d", want, len(vectors))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("zero-length vector")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
