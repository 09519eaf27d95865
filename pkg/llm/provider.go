// Package llm 提供 Embedding 与文本生成模型的统一抽象。
// Embedding 与 Chat 可以来自不同的供应商。
package llm

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
)

// EmbeddingProvider 定义 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入，返回顺序与输入一致。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string
}

// ChatProvider 定义文本生成供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话。
	Chat(ctx context.Context, messages []Message) (string, error)

	// Generate 根据单个提示生成完整文本。
	Generate(ctx context.Context, prompt string, systemPrompt string) (string, error)

	// Name 返回供应商名称。
	Name() string
}

// StreamingChatProvider 支持增量输出的文本生成供应商。
// 迭代器产出的 error 非空时迭代结束。
type StreamingChatProvider interface {
	ChatProvider
	GenerateStream(ctx context.Context, prompt string, systemPrompt string) iter.Seq2[string, error]
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider 同时支持 Embedding 和 Chat 的完整供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// ProviderFactory 供应商工厂函数类型。
type ProviderFactory func(config map[string]any) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProviderFactory)
)

// RegisterProvider 注册供应商工厂，同名注册会覆盖旧值。
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func lookup(name string) (ProviderFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return factory, nil
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	factory, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(config)
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	factory, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(config)
}

// ListProviders 按字母序列出已注册的供应商名称。
func ListProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stream 以流式方式生成文本。
// 供应商不支持流式输出时，退化为一次 Generate 调用产出单个片段。
func Stream(ctx context.Context, p ChatProvider, prompt, systemPrompt string) iter.Seq2[string, error] {
	if sp, ok := p.(StreamingChatProvider); ok {
		return sp.GenerateStream(ctx, prompt, systemPrompt)
	}
	return func(yield func(string, error) bool) {
		text, err := p.Generate(ctx, prompt, systemPrompt)
		if err != nil {
			yield("", err)
			return
		}
		yield(text, nil)
	}
}
