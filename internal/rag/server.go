// Package ragsvc wires the RAG service: storage, model providers, the
// ingestion pipeline and the HTTP server.
package ragsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/ocr"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/raster"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/chunker"
	"github.com/kart-io/sentinel-rag/internal/rag/embedder"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/history"
	"github.com/kart-io/sentinel-rag/internal/rag/parser"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/internal/rag/scraper"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/component/qdrant"
	"github.com/kart-io/sentinel-rag/pkg/component/redis"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	configpkg "github.com/kart-io/sentinel-rag/pkg/infra/config"
	applogger "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/infra/middleware"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/server"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	mwopts "github.com/kart-io/sentinel-rag/pkg/options/middleware"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ocropts "github.com/kart-io/sentinel-rag/pkg/options/ocr"
	qdrantopts "github.com/kart-io/sentinel-rag/pkg/options/qdrant"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	scraperopts "github.com/kart-io/sentinel-rag/pkg/options/scraper"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/server/http"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"

	// 注册 LLM 供应商
	_ "github.com/kart-io/sentinel-rag/pkg/llm/gemini"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
)

// Name is the name of the application.
const Name = "sentinel-rag"

const uploadPath = "/v1/rag/upload-docs"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions       *httpopts.Options
	LogOptions        *logopts.Options
	MiddlewareOptions *mwopts.Options
	TracingOptions    *tracingopts.Options
	RAGOptions        *ragopts.Options
	QdrantOptions     *qdrantopts.Options
	MilvusOptions     *milvusopts.Options
	RedisOptions      *redisopts.Options
	EmbeddingOptions  *llmopts.ProviderOptions
	ChatOptions       *llmopts.ProviderOptions
	ScraperOptions    *scraperopts.Options
	OCROptions        *ocropts.Options

	// Viper is watched for configuration changes when it was loaded from a file.
	Viper *viper.Viper
}

// Server represents the RAG server.
type Server struct {
	manager *server.Manager
	pools   *pool.Manager
	closers []func(context.Context)
}

// NewServer initializes and returns a new Server instance. Anything created
// before a failure is released again.
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting RAG service...", "service.name", Name, "service.version", app.GetVersion())

	s := &Server{pools: pool.NewManager()}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	// 1. Tracing
	if cfg.TracingOptions.ServiceName == "" {
		cfg.TracingOptions.ServiceName = Name
	}
	if cfg.TracingOptions.ServiceVersion == "" {
		cfg.TracingOptions.ServiceVersion = app.GetVersion()
	}
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, errors.ErrConfiguration.WithCause(err)
	}
	s.onClose(func(ctx context.Context) { _ = tp.Shutdown(ctx) })

	// 2. Redis（会话历史与 Embedding 缓存）
	var redisClient *redis.Client
	if cfg.RedisOptions.Enabled {
		redisClient, err = redis.New(ctx, cfg.RedisOptions)
		if err != nil {
			return nil, errors.ErrStoreUnavailable.WithCause(err)
		}
		s.onClose(func(context.Context) { _ = redisClient.Close() })
	}

	// 3. 向量存储
	backend, err := cfg.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	s.onClose(func(context.Context) { _ = backend.Close() })
	vectorStore := store.New(backend, &store.Config{
		BatchSize:         cfg.RAGOptions.BatchSize,
		MaxRetries:        cfg.RAGOptions.UploadRetries,
		Timeout:           30 * time.Second,
		ValidateDimension: cfg.RAGOptions.ValidateDimension,
	})

	// 4. 模型供应商
	emb := embedder.New(cfg.EmbeddingOptions.Model, cfg.embeddingFactory(redisClient))
	chat, err := cfg.newChatProvider()
	if err != nil {
		return nil, err
	}
	logger.Infow("model providers configured",
		"embedding.provider", cfg.EmbeddingOptions.Provider, "embedding.model", cfg.EmbeddingOptions.Model,
		"chat.provider", cfg.ChatOptions.Provider, "chat.model", cfg.ChatOptions.Model)

	// 5. 解析、分块与抓取
	docParser, reader, rasterizer, tess := cfg.newParser()
	if tess != nil {
		s.onClose(func(context.Context) { _ = tess.Close() })
	}

	ck, err := chunker.New(chunker.Config{Size: cfg.RAGOptions.ChunkSize, Overlap: cfg.RAGOptions.ChunkOverlap})
	if err != nil {
		return nil, errors.ErrConfiguration.WithCause(err)
	}

	scrapePool, err := s.pools.Register(pool.ScrapePool, pool.ScrapePoolConfig(cfg.ScraperOptions.MaxConcurrency))
	if err != nil {
		return nil, err
	}
	ingestPool, err := s.pools.Register(pool.IngestPool, pool.IngestPoolConfig())
	if err != nil {
		return nil, err
	}
	web, err := scraper.New(scraper.ConfigFromOptions(cfg.ScraperOptions), scraper.WithPool(scrapePool))
	if err != nil {
		return nil, err
	}
	s.onClose(func(context.Context) { web.Close() })

	// 6. Biz 层
	svc, err := biz.NewService(biz.Deps{
		Parser:   docParser,
		Chunker:  ck,
		Embedder: emb,
		Store:    vectorStore,
		Scraper:  web,
		Chat:     chat,
	}, biz.Config{
		TopK:           cfg.RAGOptions.TopK,
		ScoreThreshold: cfg.RAGOptions.ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	// 7. 会话历史
	var hs history.Store = history.NewMemoryStore(0)
	if redisClient != nil {
		hs = history.NewRedisStore(redisClient.Client(), &history.RedisConfig{
			TTL:         time.Duration(cfg.RAGOptions.HistoryTTLSeconds) * time.Second,
			KeyPrefix:   "rag:history:",
			MaxMessages: 100,
		})
	}

	// 8. HTTP
	ragHandler := handler.NewRAGHandler(svc, hs, ingestPool, handler.Config{
		UploadDir:    cfg.RAGOptions.UploadDir,
		MaxFileBytes: cfg.RAGOptions.MaxUploadSize,
	})
	httpServer := server.NewHTTPServer(cfg.HTTPOptions, cfg.middlewares()...)
	router.Register(httpServer.Engine(), ragHandler)
	s.manager = server.NewManager(cfg.HTTPOptions.ShutdownTimeout, httpServer)

	// 9. 配置热更新
	cfg.watch(svc, emb, reader, rasterizer)

	logger.Infow("RAG service is ready",
		"addr", cfg.HTTPOptions.Addr, "store", backend.Name(),
		"chunk_size", cfg.RAGOptions.ChunkSize, "chunk_overlap", cfg.RAGOptions.ChunkOverlap,
		"top_k", cfg.RAGOptions.TopK)
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down the HTTP server, waits
// for background ingestion and releases the backends.
func (s *Server) Run(ctx context.Context) error {
	defer s.close(context.Background())
	return s.manager.Run(ctx)
}

func (s *Server) onClose(fn func(context.Context)) {
	s.closers = append(s.closers, fn)
}

func (s *Server) close(ctx context.Context) {
	s.pools.Shutdown(30 * time.Second)
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
	s.closers = nil
}

func (cfg *Config) newBackend(ctx context.Context) (store.Backend, error) {
	switch cfg.RAGOptions.Store {
	case ragopts.StoreMemory:
		logger.Warnw("using the in-memory vector store, indexed data is lost on restart")
		return store.NewMemoryBackend(), nil
	case ragopts.StoreMilvus:
		c, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, errors.ErrStoreUnavailable.WithCause(err)
		}
		return store.NewMilvusBackend(c), nil
	default:
		c, err := qdrant.New(ctx, cfg.QdrantOptions)
		if err != nil {
			return nil, errors.ErrStoreUnavailable.WithCause(err)
		}
		return store.NewQdrantBackend(c), nil
	}
}

// embeddingFactory builds the provider for a model name with retries, a
// circuit breaker and, when Redis is available, a shared vector cache.
func (cfg *Config) embeddingFactory(redisClient *redis.Client) embedder.Factory {
	o := cfg.EmbeddingOptions
	return func(model string) (llm.EmbeddingProvider, error) {
		conf := o.ToConfigMap()
		conf["embed_model"] = model
		p, err := llm.NewEmbeddingProvider(o.Provider, conf)
		if err != nil {
			return nil, errors.ErrEmbeddingUnavailable.WithCause(err)
		}
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = o.MaxRetries
		var out llm.EmbeddingProvider = resilience.NewResilientEmbeddingProvider(p, retry, resilience.DefaultCircuitBreakerConfig())
		if redisClient != nil {
			cacheCfg := llm.DefaultEmbeddingCacheConfig()
			cacheCfg.Model = model
			out = llm.NewCachedEmbeddingProvider(out, redisClient.Client(), cacheCfg)
		}
		return out, nil
	}
}

func (cfg *Config) newChatProvider() (llm.ChatProvider, error) {
	o := cfg.ChatOptions
	p, err := llm.NewChatProvider(o.Provider, o.ToConfigMap())
	if err != nil {
		return nil, errors.ErrConfiguration.WithCause(fmt.Errorf("chat provider %s: %w", o.Provider, err))
	}
	retry := resilience.ExponentialRetryConfig(o.MaxRetries)
	return resilience.NewResilientChatProvider(p, retry, resilience.DefaultCircuitBreakerConfig()), nil
}

// newParser registers the built-in parsers. With OCR disabled scanned pages
// stay empty and image uploads fail to parse.
func (cfg *Config) newParser() (*parser.Registry, *ocr.Reader, *raster.Rasterizer, *ocr.Tesseract) {
	o := cfg.OCROptions
	if !o.Enabled {
		return parser.NewDefault(nil, nil), nil, nil, nil
	}
	layout := ocr.DefaultLayoutConfig()
	layout.BinaryThreshold = o.BinaryThreshold
	layout.MinBoxSize = o.MinBoxSize
	layout.YThreshold = o.YThreshold

	tess := ocr.NewTesseract(o.Languages...)
	reader := ocr.NewReader(tess, layout)
	rasterizer := raster.New(o.DPI)
	return parser.NewDefault(reader, parser.RasterOpener(rasterizer)), reader, rasterizer, tess
}

func (cfg *Config) middlewares() []gin.HandlerFunc {
	o := cfg.MiddlewareOptions
	mws := []gin.HandlerFunc{
		middleware.RecoveryWithConfig(middleware.RecoveryConfig{EnableStackTrace: o.Recovery.EnableStackTrace}),
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{Header: o.RequestID.Header}),
		middleware.LoggerWithConfig(middleware.LoggerConfig{SkipPaths: o.Logger.SkipPaths}),
	}
	if cfg.TracingOptions.Enabled {
		mws = append(mws, middleware.Tracing(o.Logger.SkipPaths...))
	}
	mws = append(mws, middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		MaxSize:    o.BodyLimit.MaxSize,
		PathLimits: map[string]int64{uploadPath: cfg.RAGOptions.MaxUploadSize},
	}))
	if o.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: o.RateLimit.RequestsPerSecond,
			Burst:             o.RateLimit.Burst,
			SkipPaths:         o.RateLimit.SkipPaths,
			IdleTTL:           o.RateLimit.IdleTTL,
		}))
	}
	return mws
}

// watch applies edits of the config file at runtime: log settings, RAG
// parameters, the embedding model and OCR tuning.
func (cfg *Config) watch(svc *biz.Service, emb *embedder.Embedder, reader *ocr.Reader, rasterizer *raster.Rasterizer) {
	if cfg.Viper == nil {
		return
	}
	w := configpkg.NewWatcher(cfg.Viper)

	applogger.NewReloadableLogger(cfg.LogOptions).RegisterWithWatcher(w, "log")

	w.Subscribe("rag", configpkg.UnmarshalSection("rag", func(o *ragopts.Options) error {
		return svc.UpdateParameters(o.ChunkSize, o.ChunkOverlap, o.TopK)
	}))
	w.Subscribe("embedding", configpkg.UnmarshalSection("embedding", func(o *llmopts.ProviderOptions) error {
		if o.Model != "" && o.Model != emb.Model() {
			emb.UpdateModel(o.Model)
		}
		return nil
	}))
	if reader != nil {
		w.Subscribe("ocr", configpkg.UnmarshalSection("ocr", func(o *ocropts.Options) error {
			if o.YThreshold > 0 {
				reader.SetYThreshold(o.YThreshold)
			}
			if o.DPI > 0 {
				rasterizer.SetDPI(o.DPI)
			}
			return nil
		}))
	}
	w.Start()
}
