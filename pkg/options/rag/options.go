// Package rag provides RAG core configuration options.
package rag

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Store backends.
const (
	StoreQdrant = "qdrant"
	StoreMilvus = "milvus"
	StoreMemory = "memory"
)

// Options contains RAG core configuration.
type Options struct {
	// ChunkSize is the window size in words.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the number of words shared by consecutive windows.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of results to return from similarity search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// ScoreThreshold drops search hits scoring below it; 0 disables.
	ScoreThreshold float32 `json:"score-threshold" mapstructure:"score-threshold"`

	// Store selects the vector store backend (qdrant, milvus, memory).
	Store string `json:"store" mapstructure:"store"`

	// BatchSize is the number of points per upload batch.
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`

	// UploadRetries is the number of attempts per upload batch.
	UploadRetries int `json:"upload-retries" mapstructure:"upload-retries"`

	// ValidateDimension makes collection creation fail when an existing
	// collection has a different vector dimension.
	ValidateDimension bool `json:"validate-dimension" mapstructure:"validate-dimension"`

	// UploadDir is the scratch directory for uploaded files.
	UploadDir string `json:"upload-dir" mapstructure:"upload-dir"`

	// MaxUploadSize limits a multipart upload, in bytes.
	MaxUploadSize int64 `json:"max-upload-size" mapstructure:"max-upload-size"`

	// HistoryTTL is how long a session's conversation history is kept, in seconds.
	HistoryTTLSeconds int `json:"history-ttl-seconds" mapstructure:"history-ttl-seconds"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:         500,
		ChunkOverlap:      50,
		TopK:              3,
		Store:             StoreQdrant,
		BatchSize:         10,
		UploadRetries:     3,
		UploadDir:         os.TempDir(),
		MaxUploadSize:     64 << 20,
		HistoryTTLSeconds: 24 * 3600,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "rag."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Chunk window size in words.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Words shared by consecutive chunks; must be smaller than chunk-size.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Number of chunks returned by similarity search.")
	fs.Float32Var(&o.ScoreThreshold, p+"score-threshold", o.ScoreThreshold, "Minimum similarity score, 0 disables.")
	fs.StringVar(&o.Store, p+"store", o.Store, "Vector store backend (qdrant, milvus, memory).")
	fs.IntVar(&o.BatchSize, p+"batch-size", o.BatchSize, "Points per upload batch.")
	fs.IntVar(&o.UploadRetries, p+"upload-retries", o.UploadRetries, "Attempts per upload batch.")
	fs.BoolVar(&o.ValidateDimension, p+"validate-dimension", o.ValidateDimension, "Reject existing collections whose dimension differs from the embedding model.")
	fs.StringVar(&o.UploadDir, p+"upload-dir", o.UploadDir, "Scratch directory for uploaded files.")
	fs.Int64Var(&o.MaxUploadSize, p+"max-upload-size", o.MaxUploadSize, "Maximum multipart upload size in bytes.")
	fs.IntVar(&o.HistoryTTLSeconds, p+"history-ttl-seconds", o.HistoryTTLSeconds, "Conversation history retention in seconds.")
}

// Complete applies CHUNK_SIZE, CHUNK_OVERLAP and TOP_K from the environment
// when they are set.
func (o *Options) Complete() error {
	for env, dst := range map[string]*int{
		"CHUNK_SIZE":    &o.ChunkSize,
		"CHUNK_OVERLAP": &o.ChunkOverlap,
		"TOP_K":         &o.TopK,
	} {
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = n
	}
	return nil
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size), got %d", o.ChunkOverlap))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	switch o.Store {
	case StoreQdrant, StoreMilvus, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("rag.store must be one of qdrant, milvus, memory, got %q", o.Store))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.batch-size must be positive"))
	}
	if o.UploadRetries <= 0 {
		errs = append(errs, fmt.Errorf("rag.upload-retries must be positive"))
	}
	return errs
}
