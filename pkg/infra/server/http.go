package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	httpopts "github.com/kart-io/sentinel-rag/pkg/options/server/http"
	apierrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// HTTPServer serves a gin engine.
type HTTPServer struct {
	opts   *httpopts.Options
	engine *gin.Engine

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	errCh  chan error
}

var (
	_ Runnable = (*HTTPServer)(nil)
	_ Failer   = (*HTTPServer)(nil)
)

// NewHTTPServer creates a gin engine without default middleware and
// installs middlewares in order. Unknown routes and methods answer with
// the JSON error envelope.
func NewHTTPServer(opts *httpopts.Options, middlewares ...gin.HandlerFunc) *HTTPServer {
	if opts == nil {
		opts = httpopts.NewOptions()
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(middlewares...)
	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrRouteNotFound.WithMessagef("route not found: %s %s", c.Request.Method, c.Request.URL.Path))
	})
	engine.NoMethod(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrBadRequest.WithMessagef("method %s not allowed", c.Request.Method))
	})

	return &HTTPServer{opts: opts, engine: engine, errCh: make(chan error, 1)}
}

// Name returns the server name.
func (s *HTTPServer) Name() string {
	return "http[gin]"
}

// Engine returns the underlying gin.Engine for route registration.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Addr returns the bound address once started, or nil.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Err implements Failer.
func (s *HTTPServer) Err() <-chan error {
	return s.errCh
}

// Start binds the listener synchronously so that address errors are
// reported here, then serves in the background.
func (s *HTTPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	s.mu.Lock()
	s.server, s.addr = srv, ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "addr", ln.Addr().String(), "error", err.Error())
			s.errCh <- err
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for active requests until ctx ends.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
