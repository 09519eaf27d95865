package biz

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/chunker"
	"github.com/kart-io/sentinel-rag/internal/rag/embedder"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/parser"
	"github.com/kart-io/sentinel-rag/internal/rag/scraper"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Scraper 网页抓取依赖。
type Scraper interface {
	Scrape(ctx context.Context, url string, selectors []string) (*scraper.Page, error)
	ScrapeMany(ctx context.Context, urls []string, selectors []string) []scraper.Result
}

// Indexer 负责把文档和网页写入会话集合。
type Indexer struct {
	parser   *parser.Registry
	chunker  *chunker.Chunker
	embedder *embedder.Embedder
	store    *store.VectorStore
	scraper  Scraper
	metrics  *metrics.RAGMetrics
}

// NewIndexer 创建索引器实例。
func NewIndexer(
	p *parser.Registry,
	c *chunker.Chunker,
	e *embedder.Embedder,
	s *store.VectorStore,
	sc Scraper,
	m *metrics.RAGMetrics,
) *Indexer {
	return &Indexer{parser: p, chunker: c, embedder: e, store: s, scraper: sc, metrics: m}
}

// IndexDocuments 解析并索引 paths 中的文件，names[i] 作为 paths[i] 的来源名称。
// 单个文档解析失败只记录日志；返回写入的向量点数，全部失败时为 0。
func (ix *Indexer) IndexDocuments(ctx context.Context, paths, names []string, collection string) (n int, err error) {
	if len(paths) != len(names) {
		return 0, errors.ErrRAGInvalidRequest.WithMessagef(
			"paths and names must have the same length: %d != %d", len(paths), len(names))
	}

	ctx, span := tracing.Start(ctx, tracerName, "rag.IndexDocuments",
		attribute.String("rag.collection", collection),
		attribute.Int("rag.documents", len(paths)),
	)
	defer func() { tracing.End(span, err) }()

	var all []model.Chunk
	parsed, failed := 0, 0
	for i, path := range paths {
		units, err := ix.parser.Parse(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			failed++
			logger.Warnw("failed to parse document, skipping",
				"collection", collection, "source", names[i], "error", err.Error())
			continue
		}

		chunks, err := ix.chunker.Chunk(units, names[i])
		if err != nil {
			return 0, err
		}
		parsed++
		if len(chunks) == 0 {
			logger.Warnw("document produced no chunks", "collection", collection, "source", names[i])
			continue
		}
		logger.Debugw("document chunked", "source", names[i], "units", len(units), "chunks", len(chunks))
		all = append(all, chunks...)
	}

	accepted, dropped, err := ix.upload(ctx, collection, all)
	ix.metrics.RecordIndexing(parsed, failed, accepted, dropped)
	if err != nil {
		return accepted, err
	}

	span.SetAttributes(attribute.Int("rag.points", accepted))
	logger.Infow("documents indexed", "collection", collection,
		"documents", len(paths), "failed", failed, "chunks", len(all), "points", accepted)
	return accepted, nil
}

// IndexScrapedURL 抓取单个网页并索引，写入至少一个点时返回 true。
func (ix *Indexer) IndexScrapedURL(ctx context.Context, url string, selectors []string, collection string) bool {
	ctx, span := tracing.Start(ctx, tracerName, "rag.IndexScrapedURL",
		attribute.String("rag.collection", collection),
		attribute.String("rag.url", url),
	)
	page, err := ix.scraper.Scrape(ctx, url, selectors)
	ix.metrics.RecordScrape(err)
	if err != nil {
		tracing.End(span, err)
		logger.Warnw("failed to scrape url", "collection", collection, "url", url, "error", err.Error())
		return false
	}

	chunks := scraper.Flatten(page)
	accepted, dropped, err := ix.upload(ctx, collection, chunks)
	ix.metrics.RecordIndexing(1, 0, accepted, dropped)
	tracing.End(span, err)
	if err != nil {
		logger.Errorw("failed to index scraped url", "collection", collection, "url", url, "error", err.Error())
		return false
	}
	logger.Infow("url indexed", "collection", collection, "url", url, "chunks", len(chunks), "points", accepted)
	return accepted > 0
}

// IndexScrapedURLs 并发抓取多个网页，合并后一次性嵌入并写入。
// 抓取失败的 URL 只记录日志；返回写入的向量点数。
func (ix *Indexer) IndexScrapedURLs(ctx context.Context, urls []string, selectors []string, collection string) (n int, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "rag.IndexScrapedURLs",
		attribute.String("rag.collection", collection),
		attribute.Int("rag.urls", len(urls)),
	)
	defer func() { tracing.End(span, err) }()

	targets := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			targets = append(targets, u)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	var all []model.Chunk
	scraped, failed := 0, 0
	for _, r := range ix.scraper.ScrapeMany(ctx, targets, selectors) {
		ix.metrics.RecordScrape(r.Err)
		if r.Err != nil {
			failed++
			continue
		}
		scraped++
		all = append(all, scraper.Flatten(r.Page)...)
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	accepted, dropped, err := ix.upload(ctx, collection, all)
	ix.metrics.RecordIndexing(scraped, failed, accepted, dropped)
	if err != nil {
		return accepted, err
	}
	logger.Infow("urls indexed", "collection", collection,
		"urls", len(targets), "failed", failed, "chunks", len(all), "points", accepted)
	return accepted, nil
}

// upload 嵌入 chunks 并写入集合，返回接受与丢弃的点数。
// Embedding 失败时不写入任何内容，也不创建集合。
func (ix *Indexer) upload(ctx context.Context, collection string, chunks []model.Chunk) (accepted, dropped int, err error) {
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	res := ix.embedder.Embed(ctx, texts)
	if res.Empty() {
		ix.metrics.RecordEmbeddingFailure()
		logger.Warnw("no chunks could be embedded, nothing indexed",
			"collection", collection, "chunks", len(chunks))
		return 0, 0, nil
	}

	payloads := make([]map[string]any, len(res.Indices))
	for j, idx := range res.Indices {
		payloads[j] = chunks[idx].Payload()
	}

	if _, err := ix.store.CreateCollectionIfAbsent(ctx, collection, res.Dimension()); err != nil {
		return 0, 0, err
	}

	accepted, err = ix.store.Upsert(ctx, collection, res.Vectors, payloads)
	dropped = len(payloads) - accepted
	if err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded) {
		return accepted, dropped, errors.ErrIndexFailed.WithCause(err)
	}
	return accepted, dropped, err
}
