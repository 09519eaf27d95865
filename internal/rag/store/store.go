// Package store provides per-session vector collections over a pluggable
// backend (Qdrant, Milvus or in-memory).
//
// VectorStore owns the collection contract: idempotent creation, batched
// best-effort uploads with bounded retries, fail-soft search and deletion.
// Backends only translate single calls into their wire protocol.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"golang.org/x/sync/singleflight"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
	Status      string `json:"status"`
}

// Backend is a vector database reachable by collection name. Similarity is
// cosine. Missing collections are reported with errors.ErrCollectionNotFound.
type Backend interface {
	// Name returns the backend identifier.
	Name() string
	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection creates a cosine collection of the given dimension.
	CreateCollection(ctx context.Context, name string, dim int) error
	// Upsert writes points in a single request.
	Upsert(ctx context.Context, name string, points []Point) error
	// Search returns up to topK hits by descending score, dropping hits
	// below threshold when threshold > 0.
	Search(ctx context.Context, name string, vector []float32, topK int, threshold float32) ([]Hit, error)
	// DeleteCollection drops the collection.
	DeleteCollection(ctx context.Context, name string) error
	// CollectionInfo returns collection statistics.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	// Close releases the connection.
	Close() error
}

// PointIDFunc assigns the id of a new point. The default returns a random
// UUID, so re-indexing the same chunk appends a duplicate point. A
// content-derived id turns re-indexing into an overwrite.
type PointIDFunc func(payload map[string]any) string

// RandomPointID is the default PointIDFunc.
func RandomPointID(map[string]any) string {
	return id.NewUUID()
}

// Config configures a VectorStore.
type Config struct {
	// BatchSize is the number of points per upload request.
	BatchSize int
	// MaxRetries is the number of attempts per batch.
	MaxRetries int
	// Timeout bounds each backend call; 0 disables.
	Timeout time.Duration
	// ValidateDimension rejects creating a collection that already exists
	// with another dimension.
	ValidateDimension bool
	// PointID assigns point ids.
	PointID PointIDFunc
	// Sleep replaces the backoff wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now stamps the ingestion time.
	Now func() time.Time
}

// DefaultConfig returns batches of 10 points with 3 attempts each.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:  10,
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
}

// VectorStore is safe for concurrent use across and within collections.
type VectorStore struct {
	backend Backend
	cfg     Config
	creates singleflight.Group
}

// New wraps a backend.
func New(backend Backend, cfg *Config) *VectorStore {
	c := *DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.PointID == nil {
		c.PointID = RandomPointID
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &VectorStore{backend: backend, cfg: c}
}

// Backend returns the wrapped backend name.
func (s *VectorStore) Backend() string {
	return s.backend.Name()
}

func (s *VectorStore) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// CreateCollectionIfAbsent creates name unless it exists. It reports whether
// this call created it. Concurrent callers for the same name share one
// backend round trip, bounded by the store timeout rather than by any one
// caller's context; a caller whose ctx ends stops waiting without failing
// the others.
func (s *VectorStore) CreateCollectionIfAbsent(ctx context.Context, name string, dim int) (bool, error) {
	ch := s.creates.DoChan(name, func() (any, error) {
		return s.createIfAbsent(context.WithoutCancel(ctx), name, dim)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return false, r.Err
		}
		return r.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *VectorStore) createIfAbsent(ctx context.Context, name string, dim int) (bool, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	exists, err := s.backend.CollectionExists(ctx, name)
	if err != nil {
		return false, errors.ErrStoreUnavailable.WithCause(fmt.Errorf("check collection %s: %w", name, err))
	}
	if exists {
		logger.Debugw("collection already exists", "collection", name)
		if s.cfg.ValidateDimension {
			return false, s.checkDimension(ctx, name, dim)
		}
		return false, nil
	}

	if err := s.backend.CreateCollection(ctx, name, dim); err != nil {
		return false, errors.ErrStoreUnavailable.WithCause(fmt.Errorf("create collection %s: %w", name, err))
	}
	logger.Infow("created collection", "collection", name, "dim", dim, "backend", s.backend.Name())
	return true, nil
}

func (s *VectorStore) checkDimension(ctx context.Context, name string, dim int) error {
	info, err := s.backend.CollectionInfo(ctx, name)
	if err != nil {
		return errors.ErrStoreUnavailable.WithCause(err)
	}
	if info.VectorSize != dim {
		return errors.ErrDimensionMismatch.WithMessagef(
			"collection %s has dimension %d, embeddings have %d", name, info.VectorSize, dim)
	}
	return nil
}

// Upsert stores vectors[i] with payloads[i]. Every point gets a new id and an
// ingestion timestamp. Points are sent in batches; a batch is retried with
// exponential backoff and dropped when its attempts run out, without aborting
// the remaining batches. It returns the number of points accepted.
func (s *VectorStore) Upsert(ctx context.Context, name string, vectors [][]float32, payloads []map[string]any) (int, error) {
	if len(vectors) != len(payloads) {
		return 0, errors.ErrLengthMismatch.WithMessagef(
			"got %d vectors and %d payloads", len(vectors), len(payloads))
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	timestamp := s.cfg.Now().UTC().Format(time.RFC3339Nano)
	points := make([]Point, len(vectors))
	for i := range vectors {
		payload := make(map[string]any, len(payloads[i])+1)
		for k, v := range payloads[i] {
			payload[k] = v
		}
		payload[model.KeyTimestamp] = timestamp
		points[i] = Point{ID: s.cfg.PointID(payloads[i]), Vector: vectors[i], Payload: payload}
	}

	uploaded := 0
	for start := 0; start < len(points); start += s.cfg.BatchSize {
		batch := points[start:min(start+s.cfg.BatchSize, len(points))]
		batchNum := start/s.cfg.BatchSize + 1

		if err := s.uploadBatch(ctx, name, batchNum, batch); err != nil {
			if ctx.Err() != nil {
				return uploaded, ctx.Err()
			}
			logger.Errorw("giving up on batch",
				"collection", name,
				"batch", batchNum,
				"points", len(batch),
				"attempts", s.cfg.MaxRetries,
				"error", err.Error(),
			)
			continue
		}
		uploaded += len(batch)
		logger.Debugw("uploaded batch", "collection", name, "batch", batchNum, "points", len(batch))
	}

	s.logCollectionSize(ctx, name)
	return uploaded, nil
}

func (s *VectorStore) uploadBatch(ctx context.Context, name string, batchNum int, batch []Point) error {
	retry := resilience.ExponentialRetryConfig(s.cfg.MaxRetries)
	retry.Sleep = s.cfg.Sleep

	attempt := 0
	return resilience.RetryWithBackoff(ctx, retry, func() error {
		attempt++
		callCtx, cancel := s.callContext(ctx)
		defer cancel()

		err := s.backend.Upsert(callCtx, name, batch)
		if err != nil {
			logger.Warnw("batch upload failed",
				"collection", name,
				"batch", batchNum,
				"attempt", attempt,
				"error", err.Error(),
			)
		}
		return err
	})
}

func (s *VectorStore) logCollectionSize(ctx context.Context, name string) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	info, err := s.backend.CollectionInfo(ctx, name)
	if err != nil {
		logger.Warnw("failed to fetch collection size", "collection", name, "error", err.Error())
		return
	}
	logger.Infow("collection size", "collection", name, "points", info.PointsCount)
}

// Search returns up to topK hits by descending cosine similarity. A missing
// collection, an empty collection and a backend failure all yield no hits.
// Ordering of equal scores is left to the backend.
func (s *VectorStore) Search(ctx context.Context, name string, vector []float32, topK int, threshold float32) []Hit {
	if len(vector) == 0 || topK <= 0 {
		return nil
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	hits, err := s.backend.Search(ctx, name, vector, topK, threshold)
	if err != nil {
		if stderrors.Is(err, errors.ErrCollectionNotFound) {
			logger.Debugw("search on missing collection", "collection", name)
		} else {
			logger.Errorw("search failed", "collection", name, "error", err.Error())
		}
		return nil
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// DeleteCollection drops name. It reports false, without an error, when the
// collection was missing or the backend failed.
func (s *VectorStore) DeleteCollection(ctx context.Context, name string) bool {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.backend.DeleteCollection(ctx, name); err != nil {
		logger.Errorw("failed to delete collection", "collection", name, "error", err.Error())
		return false
	}
	logger.Infow("deleted collection", "collection", name)
	return true
}

// CollectionExists reports whether name exists; backend failures report false.
func (s *VectorStore) CollectionExists(ctx context.Context, name string) bool {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	ok, err := s.backend.CollectionExists(ctx, name)
	if err != nil {
		logger.Errorw("failed to check collection existence", "collection", name, "error", err.Error())
		return false
	}
	return ok
}

// CollectionInfo returns statistics for name, or nil when unavailable.
func (s *VectorStore) CollectionInfo(ctx context.Context, name string) *CollectionInfo {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	info, err := s.backend.CollectionInfo(ctx, name)
	if err != nil {
		logger.Warnw("failed to get collection info", "collection", name, "error", err.Error())
		return nil
	}
	return info
}

// Close closes the backend.
func (s *VectorStore) Close() error {
	return s.backend.Close()
}
