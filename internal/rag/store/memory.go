package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// MemoryBackend keeps collections in process memory. Search is an exact
// cosine scan; equal scores keep insertion order.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim    int
	points []Point
	index  map[string]int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memoryCollection)}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// CollectionExists implements Backend.
func (b *MemoryBackend) CollectionExists(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.collections[name]
	return ok, nil
}

// CreateCollection implements Backend.
func (b *MemoryBackend) CreateCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; !ok {
		b.collections[name] = &memoryCollection{dim: dim, index: make(map[string]int)}
	}
	return nil
}

// Upsert implements Backend. A point with a known id replaces the old one.
func (b *MemoryBackend) Upsert(_ context.Context, name string, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.collections[name]
	if !ok {
		return errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("point %s has dimension %d, collection expects %d", p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		if i, ok := c.index[p.ID]; ok {
			c.points[i] = p
			continue
		}
		c.index[p.ID] = len(c.points)
		c.points = append(c.points, p)
	}
	return nil
}

// Search implements Backend.
func (b *MemoryBackend) Search(_ context.Context, name string, vector []float32, topK int, threshold float32) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.collections[name]
	if !ok {
		return nil, errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query has dimension %d, collection expects %d", len(vector), c.dim)
	}

	hits := make([]Hit, 0, len(c.points))
	for _, p := range c.points {
		score := Cosine(vector, p.Vector)
		if threshold > 0 && score < threshold {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteCollection implements Backend.
func (b *MemoryBackend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; !ok {
		return errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	delete(b.collections, name)
	return nil
}

// CollectionInfo implements Backend.
func (b *MemoryBackend) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.collections[name]
	if !ok {
		return nil, errors.ErrCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	return &CollectionInfo{
		Name:        name,
		PointsCount: uint64(len(c.points)),
		VectorSize:  c.dim,
		Distance:    "cosine",
		Status:      "green",
	}, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
