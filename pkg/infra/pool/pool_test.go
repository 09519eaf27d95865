package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_InvalidConfig(t *testing.T) {
	_, err := NewPool("bad", ScrapePool, &Config{Capacity: 0})
	assert.Error(t, err)

	_, err = NewPool("nil", ScrapePool, nil)
	assert.Error(t, err)
}

func TestPool_EachBoundsConcurrency(t *testing.T) {
	p, err := NewPool("scrape", ScrapePool, ScrapePoolConfig(3))
	require.NoError(t, err)
	defer p.Release()

	var inFlight, peak, done atomic.Int32
	err = p.Each(context.Background(), 12, func(_ context.Context, _ int) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
	})
	require.NoError(t, err)

	assert.Equal(t, int32(12), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Eventually(t, func() bool { return p.Stats().Completed == 12 }, time.Second, 5*time.Millisecond)
}

func TestPool_PanicIsolated(t *testing.T) {
	p, err := NewPool("scrape", ScrapePool, ScrapePoolConfig(2))
	require.NoError(t, err)
	defer p.Release()

	var ok atomic.Int32
	err = p.Each(context.Background(), 4, func(_ context.Context, i int) {
		if i == 1 {
			panic("bad page")
		}
		ok.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), ok.Load())
	assert.Eventually(t, func() bool { return p.Stats().Panics == 1 }, time.Second, 5*time.Millisecond)
}

func TestPool_SubmitAfterRelease(t *testing.T) {
	p, err := NewPool("ingest", IngestPool, IngestPoolConfig())
	require.NoError(t, err)
	p.Release()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPool_SubmitWithCanceledContext(t *testing.T) {
	p, err := NewPool("ingest", IngestPool, IngestPoolConfig())
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SubmitWithContext(ctx, func() {}), context.Canceled)
}

func TestManager(t *testing.T) {
	m := NewManager()
	_, err := m.Register(ScrapePool, ScrapePoolConfig(3))
	require.NoError(t, err)

	_, err = m.Register(ScrapePool, ScrapePoolConfig(3))
	assert.Error(t, err)

	p, ok := m.Get(ScrapePool)
	require.True(t, ok)
	assert.Equal(t, 3, p.Cap())
	assert.Len(t, m.Stats(), 1)

	m.Shutdown(time.Second)
	_, ok = m.Get(ScrapePool)
	assert.False(t, ok)
}
