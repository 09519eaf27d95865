package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// flakyBackend fails Upsert for the batches listed in failBatches.
type flakyBackend struct {
	*MemoryBackend
	mu          sync.Mutex
	calls       int
	failBatches map[int]bool // 1-based index of distinct batches
	batchOf     map[string]int
	upserts     atomic.Int32
	exists      atomic.Int32
}

func newFlakyBackend(fail ...int) *flakyBackend {
	f := &flakyBackend{
		MemoryBackend: NewMemoryBackend(),
		failBatches:   map[int]bool{},
		batchOf:       map[string]int{},
	}
	for _, b := range fail {
		f.failBatches[b] = true
	}
	return f
}

func (f *flakyBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.exists.Add(1)
	return f.MemoryBackend.CollectionExists(ctx, name)
}

func (f *flakyBackend) Upsert(ctx context.Context, name string, points []Point) error {
	f.upserts.Add(1)
	f.mu.Lock()
	key := points[0].ID
	n, ok := f.batchOf[key]
	if !ok {
		f.calls++
		n = f.calls
		f.batchOf[key] = n
	}
	fail := f.failBatches[n]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("connection reset")
	}
	return f.MemoryBackend.Upsert(ctx, name, points)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestStore(b Backend) *VectorStore {
	cfg := DefaultConfig()
	cfg.Sleep = noSleep
	cfg.Now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return New(b, cfg)
}

func vectors(n, dim int) ([][]float32, []map[string]any) {
	vecs := make([][]float32, n)
	payloads := make([]map[string]any, n)
	for i := range vecs {
		v := make([]float32, dim)
		v[i%dim] = 1
		v[(i+1)%dim] = float32(i) / float32(n)
		vecs[i] = v
		payloads[i] = map[string]any{model.KeyText: fmt.Sprintf("chunk %d", i), model.KeySource: "a.pdf", model.KeyPage: 1}
	}
	return vecs, payloads
}

func TestCreateCollectionIfAbsent_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryBackend())

	created, err := s.CreateCollectionIfAbsent(ctx, "user-session-a", 4)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateCollectionIfAbsent(ctx, "user-session-a", 4)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, s.CollectionExists(ctx, "user-session-a"))
}

func TestCreateCollectionIfAbsent_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryBackend())

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CreateCollectionIfAbsent(ctx, "c", 8)
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, created.Load(), int32(16))
	info := s.CollectionInfo(ctx, "c")
	require.NotNil(t, info)
	assert.Equal(t, 8, info.VectorSize)
}

// gatedBackend holds CollectionExists until release is closed and then fails
// if the context it was given has ended.
type gatedBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.MemoryBackend.CollectionExists(ctx, name)
}

func TestCreateCollectionIfAbsent_CancelledCallerDoesNotFailOthers(t *testing.T) {
	backend := &gatedBackend{
		MemoryBackend: NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	s := newTestStore(backend)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.CreateCollectionIfAbsent(first, "shared", 4)
		firstErr <- err
	}()
	<-backend.entered

	type result struct {
		created bool
		err     error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := s.CreateCollectionIfAbsent(context.Background(), "shared", 4)
		second <- result{ok, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(backend.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.True(t, r.created)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.True(t, s.CollectionExists(context.Background(), "shared"))
}

func TestCreateCollectionIfAbsent_DimensionCheck(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.CreateCollection(ctx, "c", 4))

	lenient := newTestStore(backend)
	_, err := lenient.CreateCollectionIfAbsent(ctx, "c", 8)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ValidateDimension = true
	strict := New(backend, cfg)
	_, err = strict.CreateCollectionIfAbsent(ctx, "c", 8)
	assert.True(t, stderrors.Is(err, errors.ErrDimensionMismatch))

	_, err = strict.CreateCollectionIfAbsent(ctx, "c", 4)
	assert.NoError(t, err)
}

func TestUpsert_LengthMismatchBeforeIO(t *testing.T) {
	backend := newFlakyBackend()
	s := newTestStore(backend)

	vecs, payloads := vectors(3, 4)
	n, err := s.Upsert(context.Background(), "c", vecs, payloads[:2])
	assert.Zero(t, n)
	assert.True(t, stderrors.Is(err, errors.ErrLengthMismatch))
	assert.Zero(t, backend.upserts.Load())
}

func TestUpsert_BatchesAndTimestamp(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend()
	s := newTestStore(backend)
	_, err := s.CreateCollectionIfAbsent(ctx, "c", 4)
	require.NoError(t, err)

	vecs, payloads := vectors(25, 4)
	n, err := s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.EqualValues(t, 3, backend.upserts.Load())

	hits := s.Search(ctx, "c", vecs[0], 25, 0)
	require.Len(t, hits, 25)
	for _, h := range hits {
		assert.Equal(t, "2025-01-02T03:04:05Z", h.Payload[model.KeyTimestamp])
	}
	_, stamped := payloads[0][model.KeyTimestamp]
	assert.False(t, stamped, "caller payloads must not be mutated")
}

func TestUpsert_FailedBatchIsDropped(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend(2)
	s := newTestStore(backend)
	_, err := s.CreateCollectionIfAbsent(ctx, "c", 4)
	require.NoError(t, err)

	vecs, payloads := vectors(25, 4)
	n, err := s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	// 1 + 3 attempts + 1
	assert.EqualValues(t, 5, backend.upserts.Load())

	info := s.CollectionInfo(ctx, "c")
	require.NotNil(t, info)
	assert.EqualValues(t, 15, info.PointsCount)
}

func TestUpsert_RandomIDsAppend(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryBackend())
	_, err := s.CreateCollectionIfAbsent(ctx, "c", 4)
	require.NoError(t, err)

	vecs, payloads := vectors(3, 4)
	_, err = s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	assert.EqualValues(t, 6, s.CollectionInfo(ctx, "c").PointsCount)
}

func TestUpsert_ContentIDsOverwrite(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.PointID = func(p map[string]any) string { return p[model.KeyText].(string) }
	s := New(NewMemoryBackend(), cfg)
	_, err := s.CreateCollectionIfAbsent(ctx, "c", 4)
	require.NoError(t, err)

	vecs, payloads := vectors(3, 4)
	_, err = s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "c", vecs, payloads)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.CollectionInfo(ctx, "c").PointsCount)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryBackend())

	assert.Empty(t, s.Search(ctx, "missing", []float32{1, 0}, 5, 0))

	_, err := s.CreateCollectionIfAbsent(ctx, "c", 2)
	require.NoError(t, err)
	assert.Empty(t, s.Search(ctx, "c", []float32{1, 0}, 5, 0))

	_, err = s.Upsert(ctx, "c",
		[][]float32{{0, 1}, {1, 0}, {1, 1}},
		[]map[string]any{{"n": "y"}, {"n": "x"}, {"n": "xy"}})
	require.NoError(t, err)

	hits := s.Search(ctx, "c", []float32{1, 0}, 2, 0)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].Payload["n"])
	assert.Equal(t, "xy", hits[1].Payload["n"])
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits = s.Search(ctx, "c", []float32{1, 0}, 5, 0.9)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	assert.Empty(t, s.Search(ctx, "c", nil, 5, 0))
	assert.Empty(t, s.Search(ctx, "c", []float32{1, 0}, 0, 0))
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryBackend())
	_, err := s.CreateCollectionIfAbsent(ctx, "c", 2)
	require.NoError(t, err)

	assert.True(t, s.DeleteCollection(ctx, "c"))
	assert.False(t, s.DeleteCollection(ctx, "c"))
	assert.False(t, s.CollectionExists(ctx, "c"))
	assert.Nil(t, s.CollectionInfo(ctx, "c"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}
