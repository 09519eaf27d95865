package biz

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// FallbackAnswer 没有检索到相关上下文时的回答。
const FallbackAnswer = "I couldn't find relevant information to answer your question. Please try asking something else."

// DefaultSystemPrompt 默认系统提示词。
const DefaultSystemPrompt = "You are a helpful assistant answering questions about the documents and web pages " +
	"the user has provided. Answer only from the given context, cite the sources you used, " +
	"and say so when the context does not contain the answer."

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 系统提示词。
	SystemPrompt string
	// SuggestionContextChars 生成推荐问题时使用的最大上下文字符数。
	SuggestionContextChars int
}

// Generator 负责答案生成。
type Generator struct {
	chat    llm.ChatProvider
	metrics *metrics.RAGMetrics
	config  GeneratorConfig
}

// NewGenerator 创建生成器实例。
func NewGenerator(chat llm.ChatProvider, m *metrics.RAGMetrics, config GeneratorConfig) *Generator {
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.SuggestionContextChars <= 0 {
		config.SuggestionContextChars = 3000
	}
	return &Generator{chat: chat, metrics: m, config: config}
}

// BuildPrompt 构建 RAG 提示词：每个上下文块前标注来源与页码，
// 有历史消息时在最前面加上 "Conversation History:" 段。
func BuildPrompt(query string, result *model.QueryResult, history []model.Message) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversation History:\n")
		sb.WriteString(model.FormatHistory(history))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Use the following context to answer the question. Cite sources where relevant.\n\n")
	if result != nil {
		for i, text := range result.Contexts {
			src := model.ChunkSource{Source: model.Unknown, Page: model.Unknown}
			if i < len(result.Sources) {
				src = result.Sources[i]
			}
			fmt.Fprintf(&sb, "[Source: %s, Page: %s]\n%s\n\n", src.Source, src.Page, text)
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n")
	return sb.String()
}

// Generate 基于检索结果生成完整回答；结果为空时直接返回 FallbackAnswer。
func (g *Generator) Generate(ctx context.Context, query string, result *model.QueryResult, history []model.Message) (string, error) {
	if result.Empty() {
		return FallbackAnswer, nil
	}

	ctx, span := tracing.Start(ctx, tracerName, "rag.Generate")
	start := time.Now()
	answer, err := g.chat.Generate(ctx, BuildPrompt(query, result, history), g.config.SystemPrompt)
	g.metrics.RecordLLMCall(time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		logger.Errorw("LLM generation failed", "provider", g.chat.Name(), "error", err.Error())
		return "", errors.ErrGenerationFailed.WithCause(err)
	}
	return answer, nil
}

// Stream 以流式方式生成回答；结果为空时只产出 FallbackAnswer。
// 迭代器产出错误后结束。
func (g *Generator) Stream(ctx context.Context, query string, result *model.QueryResult, history []model.Message) iter.Seq2[string, error] {
	if result.Empty() {
		return func(yield func(string, error) bool) {
			yield(FallbackAnswer, nil)
		}
	}

	prompt := BuildPrompt(query, result, history)
	return func(yield func(string, error) bool) {
		ctx, span := tracing.Start(ctx, tracerName, "rag.Stream")
		start := time.Now()
		var streamErr error
		defer func() {
			g.metrics.RecordLLMCall(time.Since(start), streamErr)
			tracing.End(span, streamErr)
		}()

		for fragment, err := range llm.Stream(ctx, g.chat, prompt, g.config.SystemPrompt) {
			if err != nil {
				streamErr = err
				logger.Errorw("LLM stream failed", "provider", g.chat.Name(), "error", err.Error())
				yield("", errors.ErrGenerationFailed.WithCause(err))
				return
			}
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// SuggestQuestions 根据集合内容与最近的回答生成 n 个推荐问题。
func (g *Generator) SuggestQuestions(ctx context.Context, contexts []string, history []model.Message, n int) ([]string, error) {
	var recent []string
	for i := max(len(history)-5, 0); i < len(history); i++ {
		if history[i].Role == model.RoleBot {
			recent = append(recent, history[i].Content)
		}
	}
	material := textutil.TruncateString(strings.Join(contexts, "\n\n"), g.config.SuggestionContextChars)
	if len(recent) > 0 {
		material = strings.Join(recent, "\n") + "\n" + material
	}

	prompt := fmt.Sprintf("Based on the following text, suggest %d short, relevant questions a reader might ask. "+
		"Write one question per line, at most one line and about 10 words each, without numbering.\n\n%s", n, material)

	ctx, span := tracing.Start(ctx, tracerName, "rag.SuggestQuestions")
	start := time.Now()
	text, err := g.chat.Generate(ctx, prompt, "")
	g.metrics.RecordLLMCall(time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		logger.Errorw("failed to generate suggested questions", "provider", g.chat.Name(), "error", err.Error())
		return nil, errors.ErrGenerationFailed.WithCause(err)
	}
	return textutil.SplitQuestions(text, n), nil
}
