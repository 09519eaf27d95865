// Package parser converts uploaded files into ordered (location, text) units.
//
// Native extraction is tried first; OCR is only used for pages and images
// that carry no text layer. A bad page or embedded image is logged and left
// empty, while a file that yields no text at all fails with ErrParseFailure.
package parser

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Parser extracts units from one file.
type Parser interface {
	Parse(ctx context.Context, path string) ([]model.Unit, error)
}

// Func adapts a function to Parser.
type Func func(ctx context.Context, path string) ([]model.Unit, error)

// Parse implements Parser.
func (f Func) Parse(ctx context.Context, path string) ([]model.Unit, error) {
	return f(ctx, path)
}

// Registry dispatches files to parsers by extension, case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Register binds ext (with or without the leading dot) to p, replacing any
// previous parser.
func (r *Registry) Register(ext string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[normalizeExt(ext)] = p
}

// Unregister removes the parser for ext.
func (r *Registry) Unregister(ext string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parsers, normalizeExt(ext))
}

// SupportedExtensions returns the registered extensions, sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

func (r *Registry) lookup(path string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[normalizeExt(filepath.Ext(path))]
	return p, ok
}

// Parse extracts the units of path with the parser registered for its
// extension. Errors are ErrUnsupportedFormat or ErrParseFailure.
func (r *Registry) Parse(ctx context.Context, path string) ([]model.Unit, error) {
	p, ok := r.lookup(path)
	if !ok {
		return nil, errors.ErrUnsupportedFormat.WithMessagef("unsupported file extension %q", filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.ErrParseFailure.WithCause(err)
	}

	units, err := safeParse(ctx, p, path)
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var errno *errors.Errno
		if stderrors.As(err, &errno) {
			return nil, err
		}
		return nil, errors.ErrParseFailure.WithCause(fmt.Errorf("parse %s: %w", filepath.Base(path), err))
	}
	if !hasText(units) {
		return nil, errors.ErrParseFailure.WithMessagef("no text could be extracted from %s", filepath.Base(path))
	}
	return units, nil
}

// safeParse turns a panic inside a parser into an error so one document
// cannot take down a batch.
func safeParse(ctx context.Context, p Parser, path string) (units []model.Unit, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw("parser panicked", "source", filepath.Base(path), "panic", fmt.Sprint(rec))
			units, err = nil, fmt.Errorf("parser panic: %v", rec)
		}
	}()
	return p.Parse(ctx, path)
}

func hasText(units []model.Unit) bool {
	for _, u := range units {
		if strings.TrimSpace(u.Text) != "" {
			return true
		}
	}
	return false
}

// NewDefault registers the built-in parsers. ocr and render may be nil, in
// which case scanned pages stay empty and images cannot be parsed.
func NewDefault(ocr OCR, render RenderOpener) *Registry {
	r := NewRegistry()
	r.Register(".pdf", PDF{Render: render, OCR: ocr})
	r.Register(".docx", DOCX{OCR: ocr})
	// 旧版 .doc 仅当其实际为 OOXML 时可解析
	r.Register(".doc", DOCX{OCR: ocr})
	img := Image{OCR: ocr}
	r.Register(".jpg", img)
	r.Register(".jpeg", img)
	r.Register(".png", img)
	r.Register(".txt", Text{})
	return r
}
