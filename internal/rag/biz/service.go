package biz

import (
	"context"
	"iter"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/chunker"
	"github.com/kart-io/sentinel-rag/internal/rag/embedder"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/parser"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

const tracerName = "sentinel-rag/biz"

// collectionPrefix 会话集合名前缀。
const collectionPrefix = "user-session-"

// suggestionQuery 生成推荐问题时用于抽取集合内容的查询。
const suggestionQuery = "What are the main topics covered in this content?"

// CollectionName 返回会话对应的集合名。
func CollectionName(sessionID string) string {
	return collectionPrefix + sessionID
}

// NewSessionID 生成新的会话 ID。
func NewSessionID() string {
	return id.NewSessionID()
}

// Deps RAG 服务依赖。
type Deps struct {
	Parser   *parser.Registry
	Chunker  *chunker.Chunker
	Embedder *embedder.Embedder
	Store    *store.VectorStore
	Scraper  Scraper
	Chat     llm.ChatProvider
	Metrics  *metrics.RAGMetrics
}

// Config RAG 服务配置。
type Config struct {
	TopK           int
	ScoreThreshold float32
	SystemPrompt   string
	// SuggestionContextChars 生成推荐问题时使用的最大上下文字符数。
	SuggestionContextChars int
}

// Parameters 运行时可调整的参数。
type Parameters struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	TopK         int    `json:"top_k"`
	Embedding    string `json:"embedding_model"`
	Backend      string `json:"vector_store"`
}

// Service 组合 Indexer、Retriever 和 Generator 提供完整的 RAG 服务。
type Service struct {
	indexer   *Indexer
	retriever *Retriever
	generator *Generator
	parser    *parser.Registry
	chunker   *chunker.Chunker
	embedder  *embedder.Embedder
	store     *store.VectorStore
	metrics   *metrics.RAGMetrics
}

// NewService 创建 RAG 服务实例，缺少必需依赖时返回 ErrConfiguration。
func NewService(deps Deps, cfg Config) (*Service, error) {
	var missing []string
	if deps.Parser == nil {
		missing = append(missing, "parser")
	}
	if deps.Chunker == nil {
		missing = append(missing, "chunker")
	}
	if deps.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if deps.Store == nil {
		missing = append(missing, "vector store")
	}
	if deps.Scraper == nil {
		missing = append(missing, "scraper")
	}
	if deps.Chat == nil {
		missing = append(missing, "chat provider")
	}
	if len(missing) > 0 {
		return nil, errors.ErrConfiguration.WithMessagef("missing dependencies: %s", strings.Join(missing, ", "))
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.GetRAGMetrics()
	}

	retriever := NewRetriever(deps.Embedder, deps.Store, deps.Metrics, RetrieverConfig{
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
	})
	generator := NewGenerator(deps.Chat, deps.Metrics, GeneratorConfig{
		SystemPrompt:           cfg.SystemPrompt,
		SuggestionContextChars: cfg.SuggestionContextChars,
	})

	s := &Service{
		indexer:   NewIndexer(deps.Parser, deps.Chunker, deps.Embedder, deps.Store, deps.Scraper, deps.Metrics),
		retriever: retriever,
		generator: generator,
		parser:    deps.Parser,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		store:     deps.Store,
		metrics:   deps.Metrics,
	}

	logger.Infow("RAG service initialized",
		"vector_store", deps.Store.Backend(),
		"chat_provider", deps.Chat.Name(),
		"embedding_model", deps.Embedder.Model(),
		"top_k", s.retriever.TopK(),
	)
	return s, nil
}

// IndexDocuments 解析、分块、嵌入并写入文档，返回写入的点数。
func (s *Service) IndexDocuments(ctx context.Context, paths, names []string, collection string) (int, error) {
	return s.indexer.IndexDocuments(ctx, paths, names, collection)
}

// IndexScrapedURL 抓取并索引单个网页。
func (s *Service) IndexScrapedURL(ctx context.Context, url string, selectors []string, collection string) bool {
	return s.indexer.IndexScrapedURL(ctx, url, selectors, collection)
}

// IndexScrapedURLs 并发抓取并索引多个网页，返回写入的点数。
func (s *Service) IndexScrapedURLs(ctx context.Context, urls, selectors []string, collection string) (int, error) {
	return s.indexer.IndexScrapedURLs(ctx, urls, selectors, collection)
}

// Query 检索与问题最相关的上下文，topK <= 0 时使用默认值。
func (s *Service) Query(ctx context.Context, query, collection string, topK int) *model.QueryResult {
	return s.retriever.Retrieve(ctx, query, collection, topK)
}

// GenerateResponse 检索上下文并生成回答。
func (s *Service) GenerateResponse(ctx context.Context, query, collection string, history []model.Message) (*model.Answer, error) {
	result := s.retriever.Retrieve(ctx, query, collection, 0)
	answer, err := s.generator.Generate(ctx, query, result, history)
	if err != nil {
		return nil, err
	}
	return &model.Answer{Answer: answer, Sources: result.Sources}, nil
}

// StreamResponse 检索上下文，返回来源和增量回答。
func (s *Service) StreamResponse(ctx context.Context, query, collection string, history []model.Message) ([]model.ChunkSource, iter.Seq2[string, error]) {
	result := s.retriever.Retrieve(ctx, query, collection, 0)
	return result.Sources, s.generator.Stream(ctx, query, result, history)
}

// SuggestQuestions 根据集合内容生成 n 个推荐问题。
// 集合不存在或没有内容时返回 ErrCollectionNotFound。
func (s *Service) SuggestQuestions(ctx context.Context, collection string, history []model.Message, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	result := s.retriever.Retrieve(ctx, suggestionQuery, collection, 5)
	if result.Empty() {
		return nil, errors.ErrCollectionNotFound.WithMessagef("no indexed content in collection %s", collection)
	}
	return s.generator.SuggestQuestions(ctx, result.Contexts, history, n)
}

// CleanupCollection 删除集合，集合不存在时返回 false。
func (s *Service) CleanupCollection(ctx context.Context, collection string) bool {
	ok := s.store.DeleteCollection(ctx, collection)
	if ok {
		s.metrics.RecordCollectionDeleted()
		logger.Infow("collection cleaned up", "collection", collection)
	}
	return ok
}

// CollectionExists 判断集合是否存在。
func (s *Service) CollectionExists(ctx context.Context, collection string) bool {
	return s.store.CollectionExists(ctx, collection)
}

// CollectionInfo 返回集合统计信息，不存在时为 nil。
func (s *Service) CollectionInfo(ctx context.Context, collection string) *store.CollectionInfo {
	return s.store.CollectionInfo(ctx, collection)
}

// UpdateParameters 修改分块与检索参数，零值表示保持不变。
// 分块参数非法时不做任何修改。
func (s *Service) UpdateParameters(chunkSize, overlap, topK int) error {
	if topK < 0 {
		return errors.ErrRAGInvalidRequest.WithMessagef("top_k must not be negative: %d", topK)
	}
	if err := s.chunker.Update(chunkSize, overlap); err != nil {
		return err
	}
	s.retriever.SetTopK(topK)

	p := s.Parameters()
	logger.Infow("RAG parameters updated",
		"chunk_size", p.ChunkSize, "chunk_overlap", p.ChunkOverlap, "top_k", p.TopK)
	return nil
}

// Parameters 返回当前参数。
func (s *Service) Parameters() Parameters {
	c := s.chunker.Config()
	return Parameters{
		ChunkSize:    c.Size,
		ChunkOverlap: c.Overlap,
		TopK:         s.retriever.TopK(),
		Embedding:    s.embedder.Model(),
		Backend:      s.store.Backend(),
	}
}

// SupportedExtensions 返回可上传的文件扩展名。
func (s *Service) SupportedExtensions() []string {
	return s.parser.SupportedExtensions()
}

// Stats 返回服务统计信息。
func (s *Service) Stats() map[string]any {
	stats := s.metrics.Stats()
	stats["parameters"] = s.Parameters()
	stats["supported_extensions"] = s.SupportedExtensions()
	return stats
}
