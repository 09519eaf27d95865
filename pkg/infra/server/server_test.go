package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpopts "github.com/kart-io/sentinel-rag/pkg/options/server/http"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

type fakeServer struct {
	name     string
	rec      *recorder
	startErr error
	errCh    chan error
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) Start(context.Context) error {
	f.rec.add("start " + f.name)
	return f.startErr
}

func (f *fakeServer) Stop(context.Context) error {
	f.rec.add("stop " + f.name)
	return nil
}

func (f *fakeServer) Err() <-chan error { return f.errCh }

func TestManager_StartStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager(time.Second, &fakeServer{name: "a", rec: rec}, &fakeServer{name: "b", rec: rec})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "second start")
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, rec.calls)
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	m := NewManager(time.Second,
		&fakeServer{name: "a", rec: rec},
		&fakeServer{name: "b", rec: rec, startErr: errors.New("address in use")},
	)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.calls)
}

func TestManager_RunUntilCancelled(t *testing.T) {
	rec := &recorder{}
	m := NewManager(time.Second, &fakeServer{name: "a", rec: rec, errCh: make(chan error, 1)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"start a", "stop a"}, rec.calls)
}

func TestManager_RunStopsOnServerFailure(t *testing.T) {
	rec := &recorder{}
	failing := &fakeServer{name: "a", rec: rec, errCh: make(chan error, 1)}
	failing.errCh <- errors.New("listener closed")
	m := NewManager(time.Second, failing)

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener closed")
	assert.Equal(t, []string{"start a", "stop a"}, rec.calls)
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	opts := httpopts.NewOptions()
	opts.Addr = "127.0.0.1:0"
	opts.Mode = gin.TestMode

	var order []string
	s := NewHTTPServer(opts, func(c *gin.Context) {
		order = append(order, "mw")
		c.Next()
	})
	s.Engine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	base := fmt.Sprintf("http://%s", s.Addr().String())

	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, []string{"mw"}, order)

	resp, err = http.Get(base + "/missing")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `"code"`)

	require.NoError(t, s.Stop(context.Background()))
	_, err = http.Get(base + "/ping")
	assert.Error(t, err)
}

func TestHTTPServer_BindError(t *testing.T) {
	opts := httpopts.NewOptions()
	opts.Addr = "127.0.0.1:0"
	opts.Mode = gin.TestMode
	first := NewHTTPServer(opts)
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	taken := httpopts.NewOptions()
	taken.Addr = first.Addr().String()
	taken.Mode = gin.TestMode
	assert.Error(t, NewHTTPServer(taken).Start(context.Background()))
}
