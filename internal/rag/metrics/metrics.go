// Package metrics 提供 RAG 服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RAGMetrics RAG 服务业务指标，并发安全。
type RAGMetrics struct {
	// 查询指标
	queriesTotal      atomic.Uint64 // 总查询次数
	queriesEmpty      atomic.Uint64 // 无相关结果的查询次数
	embeddingFailures atomic.Uint64 // Embedding 失败次数（查询与索引）

	// LLM 调用指标
	llmCallsTotal  atomic.Uint64
	llmCallsErrors atomic.Uint64

	// 索引指标
	documentsIndexed atomic.Uint64 // 成功解析的文档数
	documentsFailed  atomic.Uint64 // 解析失败的文档数
	chunksIndexed    atomic.Uint64 // 写入向量库的分块数
	chunksDropped    atomic.Uint64 // 重试耗尽被丢弃的分块数

	// 抓取指标
	scrapesTotal   atomic.Uint64
	scrapeFailures atomic.Uint64

	collectionsDeleted atomic.Uint64

	durationMu        sync.Mutex
	retrievalDuration float64 // 检索总耗时（秒）
	llmDuration       float64 // LLM 调用总耗时（秒）
	startTime         time.Time
}

var (
	globalRAGMetrics *RAGMetrics
	ragMetricsOnce   sync.Once
)

// New 创建独立的指标实例。
func New() *RAGMetrics {
	return &RAGMetrics{startTime: time.Now()}
}

// GetRAGMetrics 获取全局 RAG 指标实例。
func GetRAGMetrics() *RAGMetrics {
	ragMetricsOnce.Do(func() {
		globalRAGMetrics = New()
	})
	return globalRAGMetrics
}

// RecordQuery 记录一次检索，hits 为返回的上下文数量。
func (m *RAGMetrics) RecordQuery(duration time.Duration, hits int) {
	m.queriesTotal.Add(1)
	if hits == 0 {
		m.queriesEmpty.Add(1)
	}
	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordEmbeddingFailure 记录 Embedding 返回空结果。
func (m *RAGMetrics) RecordEmbeddingFailure() {
	m.embeddingFailures.Add(1)
}

// RecordLLMCall 记录 LLM 调用。
func (m *RAGMetrics) RecordLLMCall(duration time.Duration, err error) {
	m.llmCallsTotal.Add(1)
	if err != nil {
		m.llmCallsErrors.Add(1)
		return
	}
	m.durationMu.Lock()
	m.llmDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordIndexing 记录一次索引调用。
func (m *RAGMetrics) RecordIndexing(documents, failed, chunks, dropped int) {
	m.documentsIndexed.Add(uint64(max(documents, 0)))
	m.documentsFailed.Add(uint64(max(failed, 0)))
	m.chunksIndexed.Add(uint64(max(chunks, 0)))
	m.chunksDropped.Add(uint64(max(dropped, 0)))
}

// RecordScrape 记录一次网页抓取。
func (m *RAGMetrics) RecordScrape(err error) {
	m.scrapesTotal.Add(1)
	if err != nil {
		m.scrapeFailures.Add(1)
	}
}

// RecordCollectionDeleted 记录集合删除。
func (m *RAGMetrics) RecordCollectionDeleted() {
	m.collectionsDeleted.Add(1)
}

type sample struct {
	name, help, kind string
	value            float64
}

func (m *RAGMetrics) samples() []sample {
	m.durationMu.Lock()
	retrieval, llm := m.retrievalDuration, m.llmDuration
	uptime := time.Since(m.startTime).Seconds()
	m.durationMu.Unlock()

	return []sample{
		{"queries_total", "Total number of retrieval queries.", "counter", float64(m.queriesTotal.Load())},
		{"queries_empty_total", "Queries that found no relevant context.", "counter", float64(m.queriesEmpty.Load())},
		{"retrieval_duration_seconds_total", "Total retrieval duration.", "counter", retrieval},
		{"embedding_failures_total", "Embedding calls that returned nothing.", "counter", float64(m.embeddingFailures.Load())},
		{"llm_calls_total", "Total number of LLM calls.", "counter", float64(m.llmCallsTotal.Load())},
		{"llm_calls_errors_total", "Number of LLM call errors.", "counter", float64(m.llmCallsErrors.Load())},
		{"llm_calls_duration_seconds_total", "Total LLM call duration.", "counter", llm},
		{"documents_indexed_total", "Documents parsed and indexed.", "counter", float64(m.documentsIndexed.Load())},
		{"documents_failed_total", "Documents that could not be parsed.", "counter", float64(m.documentsFailed.Load())},
		{"chunks_indexed_total", "Chunks accepted by the vector store.", "counter", float64(m.chunksIndexed.Load())},
		{"chunks_dropped_total", "Chunks dropped after upload retries ran out.", "counter", float64(m.chunksDropped.Load())},
		{"scrapes_total", "Web pages requested.", "counter", float64(m.scrapesTotal.Load())},
		{"scrape_failures_total", "Web pages that could not be scraped.", "counter", float64(m.scrapeFailures.Load())},
		{"collections_deleted_total", "Session collections deleted.", "counter", float64(m.collectionsDeleted.Load())},
		{"uptime_seconds", "Service uptime in seconds.", "gauge", uptime},
	}
}

// Export 导出 Prometheus 文本格式指标。
func (m *RAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	var sb strings.Builder
	for _, s := range m.samples() {
		name := prefix + "_" + s.name
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, s.kind)
		fmt.Fprintf(&sb, "%s %g\n\n", name, s.value)
	}
	return sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *RAGMetrics) Stats() map[string]any {
	m.durationMu.Lock()
	retrieval, llm := m.retrievalDuration, m.llmDuration
	m.durationMu.Unlock()

	queries := m.queriesTotal.Load()
	avgRetrieval := 0.0
	if queries > 0 {
		avgRetrieval = retrieval / float64(queries)
	}
	llmCalls := m.llmCallsTotal.Load()
	avgLLM := 0.0
	if ok := llmCalls - m.llmCallsErrors.Load(); ok > 0 {
		avgLLM = llm / float64(ok)
	}

	return map[string]any{
		"queries": map[string]any{
			"total":              queries,
			"empty":              m.queriesEmpty.Load(),
			"avg_duration_secs":  avgRetrieval,
			"embedding_failures": m.embeddingFailures.Load(),
		},
		"llm": map[string]any{
			"calls_total":       llmCalls,
			"errors":            m.llmCallsErrors.Load(),
			"avg_duration_secs": avgLLM,
		},
		"indexing": map[string]any{
			"documents_indexed": m.documentsIndexed.Load(),
			"documents_failed":  m.documentsFailed.Load(),
			"chunks_indexed":    m.chunksIndexed.Load(),
			"chunks_dropped":    m.chunksDropped.Load(),
		},
		"scraping": map[string]any{
			"total":    m.scrapesTotal.Load(),
			"failures": m.scrapeFailures.Load(),
		},
		"collections_deleted": m.collectionsDeleted.Load(),
		"uptime_seconds":      time.Since(m.startTime).Seconds(),
	}
}

// Reset 重置所有指标（仅用于测试）。
func (m *RAGMetrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.queriesTotal, &m.queriesEmpty, &m.embeddingFailures,
		&m.llmCallsTotal, &m.llmCallsErrors,
		&m.documentsIndexed, &m.documentsFailed, &m.chunksIndexed, &m.chunksDropped,
		&m.scrapesTotal, &m.scrapeFailures, &m.collectionsDeleted,
	} {
		c.Store(0)
	}
	m.durationMu.Lock()
	m.retrievalDuration = 0
	m.llmDuration = 0
	m.startTime = time.Now()
	m.durationMu.Unlock()
}
