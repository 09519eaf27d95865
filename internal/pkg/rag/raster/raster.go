// Package raster renders PDF pages to bitmaps with MuPDF (go-fitz).
package raster

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the resolution used for OCR fallbacks.
const DefaultDPI = 150

// Rasterizer opens PDF documents for page rendering.
type Rasterizer struct {
	mu  sync.RWMutex
	dpi float64
}

// New creates a Rasterizer; dpi <= 0 selects DefaultDPI.
func New(dpi float64) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{dpi: dpi}
}

// DPI returns the current rendering resolution.
func (r *Rasterizer) DPI() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dpi
}

// SetDPI changes the resolution for documents opened afterwards.
func (r *Rasterizer) SetDPI(dpi float64) {
	if dpi <= 0 {
		return
	}
	r.mu.Lock()
	r.dpi = dpi
	r.mu.Unlock()
}

// Document is an open PDF. It is not safe for concurrent use.
type Document struct {
	doc *fitz.Document
	dpi float64
}

// Open opens the PDF at path. The caller must Close it.
func (r *Rasterizer) Open(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s for rendering: %w", path, err)
	}
	return &Document{doc: doc, dpi: r.DPI()}, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int {
	return d.doc.NumPage()
}

// RenderPage renders the zero-based page index.
func (d *Document) RenderPage(index int) (image.Image, error) {
	if index < 0 || index >= d.doc.NumPage() {
		return nil, fmt.Errorf("page index %d out of range [0,%d)", index, d.doc.NumPage())
	}
	img, err := d.doc.ImageDPI(index, d.dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index+1, err)
	}
	return img, nil
}

// Close releases the MuPDF document.
func (d *Document) Close() error {
	return d.doc.Close()
}
