package biz

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/embedder"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
)

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// TopK 默认返回的结果数量。
	TopK int
	// ScoreThreshold 低于该相似度的结果被丢弃，0 表示不过滤。
	ScoreThreshold float32
}

// Retriever 负责会话集合内的相似度检索。
type Retriever struct {
	embedder *embedder.Embedder
	store    *store.VectorStore
	metrics  *metrics.RAGMetrics

	mu     sync.RWMutex
	config RetrieverConfig
}

// NewRetriever 创建检索器实例。
func NewRetriever(e *embedder.Embedder, s *store.VectorStore, m *metrics.RAGMetrics, config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	return &Retriever{embedder: e, store: s, metrics: m, config: config}
}

// TopK 返回当前默认的 top-k。
func (r *Retriever) TopK() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.TopK
}

// SetTopK 修改默认的 top-k，非正数被忽略。
func (r *Retriever) SetTopK(k int) {
	if k <= 0 {
		return
	}
	r.mu.Lock()
	r.config.TopK = k
	r.mu.Unlock()
}

// Retrieve 在 collection 中检索与 query 最相似的分块，topK <= 0 时使用默认值。
// 查询无法嵌入、集合不存在或为空时返回空结果，不返回错误。
func (r *Retriever) Retrieve(ctx context.Context, query, collection string, topK int) *model.QueryResult {
	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()
	if topK <= 0 {
		topK = cfg.TopK
	}

	ctx, span := tracing.Start(ctx, tracerName, "rag.Retrieve",
		attribute.String("rag.collection", collection),
		attribute.Int("rag.top_k", topK),
	)
	defer span.End()

	start := time.Now()
	result := &model.QueryResult{Contexts: []string{}, Sources: []model.ChunkSource{}}

	vector := r.embedder.EmbedQuery(ctx, query)
	if vector == nil {
		r.metrics.RecordEmbeddingFailure()
		r.metrics.RecordQuery(time.Since(start), 0)
		logger.Warnw("query could not be embedded, returning no context", "collection", collection)
		return result
	}

	for _, hit := range r.store.Search(ctx, collection, vector, topK, cfg.ScoreThreshold) {
		result.Contexts = append(result.Contexts, model.TextFromPayload(hit.Payload))
		result.Sources = append(result.Sources, model.SourceFromPayload(hit.Payload, hit.Score))
	}

	r.metrics.RecordQuery(time.Since(start), len(result.Contexts))
	span.SetAttributes(attribute.Int("rag.hits", len(result.Contexts)))
	logger.Debugw("retrieval completed", "collection", collection, "hits", len(result.Contexts))
	return result
}
