// Package options contains flags and options for initializing the RAG server.
package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/options"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	middlewareopts "github.com/kart-io/sentinel-rag/pkg/options/middleware"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ocropts "github.com/kart-io/sentinel-rag/pkg/options/ocr"
	qdrantopts "github.com/kart-io/sentinel-rag/pkg/options/qdrant"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	scraperopts "github.com/kart-io/sentinel-rag/pkg/options/scraper"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/server/http"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
	apierrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MiddlewareOptions contains HTTP middleware configuration.
	MiddlewareOptions *middlewareopts.Options `json:"middleware" mapstructure:"middleware"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// RAGOptions contains chunking, retrieval and upload configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// QdrantOptions contains Qdrant connection configuration.
	QdrantOptions *qdrantopts.Options `json:"qdrant" mapstructure:"qdrant"`

	// MilvusOptions contains Milvus connection configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// RedisOptions contains Redis configuration for history and caching.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// ScraperOptions contains web scraper configuration.
	ScraperOptions *scraperopts.Options `json:"scraper" mapstructure:"scraper"`

	// OCROptions contains OCR configuration.
	OCROptions *ocropts.Options `json:"ocr" mapstructure:"ocr"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:       httpopts.NewOptions(),
		LogOptions:        logopts.NewOptions(),
		MiddlewareOptions: middlewareopts.NewOptions(),
		TracingOptions:    tracingopts.NewOptions(),
		RAGOptions:        ragopts.NewOptions(),
		QdrantOptions:     qdrantopts.NewOptions(),
		MilvusOptions:     milvusopts.NewOptions(),
		RedisOptions:      redisopts.NewOptions(),
		EmbeddingOptions:  llmopts.NewEmbeddingOptions(),
		ChatOptions:       llmopts.NewChatOptions(),
		ScraperOptions:    scraperopts.NewOptions(),
		OCROptions:        ocropts.NewOptions(),
	}
}

// AddFlags adds the flags of every section to fs.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.HTTPOptions.AddFlags(fs)
	o.LogOptions.AddFlags(fs)
	o.MiddlewareOptions.AddFlags(fs)
	o.TracingOptions.AddFlags(fs)
	o.RAGOptions.AddFlags(fs)
	o.QdrantOptions.AddFlags(fs)
	o.MilvusOptions.AddFlags(fs)
	o.RedisOptions.AddFlags(fs)
	o.EmbeddingOptions.AddFlags(fs, "embedding")
	o.ChatOptions.AddFlags(fs, "chat")
	o.ScraperOptions.AddFlags(fs)
	o.OCROptions.AddFlags(fs)
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.LogOptions.Complete(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := o.QdrantOptions.Complete(); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	if err := o.MilvusOptions.Complete(); err != nil {
		return fmt.Errorf("milvus: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid. Failures
// are reported as a configuration error before anything is constructed.
func (o *ServerOptions) Validate() error {
	err := errors.Join(
		o.LogOptions.Validate(),
		options.ValidateAll(
			o.HTTPOptions,
			o.MiddlewareOptions,
			o.TracingOptions,
			o.RAGOptions,
			o.QdrantOptions,
			o.MilvusOptions,
			o.RedisOptions,
			o.EmbeddingOptions,
			o.ChatOptions,
			o.ScraperOptions,
			o.OCROptions,
		),
	)
	if err != nil {
		return apierrors.ErrConfiguration.WithCause(err)
	}
	return nil
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	cfg := &ragsvc.Config{
		HTTPOptions:       o.HTTPOptions,
		LogOptions:        o.LogOptions,
		MiddlewareOptions: o.MiddlewareOptions,
		TracingOptions:    o.TracingOptions,
		RAGOptions:        o.RAGOptions,
		QdrantOptions:     o.QdrantOptions,
		MilvusOptions:     o.MilvusOptions,
		RedisOptions:      o.RedisOptions,
		EmbeddingOptions:  o.EmbeddingOptions,
		ChatOptions:       o.ChatOptions,
		ScraperOptions:    o.ScraperOptions,
		OCROptions:        o.OCROptions,
	}
	// 仅在加载了配置文件时启用热更新
	if viper.ConfigFileUsed() != "" {
		cfg.Viper = viper.GetViper()
	}
	return cfg, nil
}
