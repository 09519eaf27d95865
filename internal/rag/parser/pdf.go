package parser

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/kart-io/logger"
	"github.com/ledongthuc/pdf"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/raster"
)

// PageRenderer renders pages of an open document. *raster.Document
// implements it.
type PageRenderer interface {
	RenderPage(index int) (image.Image, error)
	Close() error
}

// RenderOpener opens a document for rendering.
type RenderOpener func(path string) (PageRenderer, error)

// RasterOpener adapts a raster.Rasterizer.
func RasterOpener(r *raster.Rasterizer) RenderOpener {
	return func(path string) (PageRenderer, error) {
		doc, err := r.Open(path)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
}

// PDF extracts one unit per page. Pages without a text layer are rendered
// and OCR'd when both Render and OCR are set.
type PDF struct {
	Render RenderOpener
	OCR    OCR

	// pageTexts replaces native extraction in tests.
	pageTexts func(path string) ([]string, error)
}

// Parse implements Parser.
func (p PDF) Parse(ctx context.Context, path string) ([]model.Unit, error) {
	extract := p.pageTexts
	if extract == nil {
		extract = nativePageTexts
	}
	texts, err := extract(path)
	if err != nil {
		return nil, err
	}

	var renderer PageRenderer
	defer func() {
		if renderer != nil {
			_ = renderer.Close()
		}
	}()

	units := make([]model.Unit, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := i + 1
		text = strings.TrimSpace(text)

		if text == "" && p.Render != nil && p.OCR != nil {
			logger.Debugw("page has no text layer, using ocr", "source", path, "page", page)
			if renderer == nil {
				if renderer, err = p.Render(path); err != nil {
					logger.Warnw("cannot render pdf for ocr", "source", path, "error", err.Error())
					p.Render = nil
				}
			}
			if renderer != nil {
				text = p.ocrPage(ctx, renderer, path, i)
			}
		}
		units = append(units, model.Unit{Page: page, Text: text})
	}
	return units, nil
}

func (p PDF) ocrPage(ctx context.Context, r PageRenderer, path string, index int) string {
	img, err := r.RenderPage(index)
	if err != nil {
		logger.Warnw("failed to render page", "source", path, "page", index+1, "error", err.Error())
		return ""
	}
	text, err := p.OCR.Read(ctx, img)
	if err != nil {
		logger.Warnw("ocr failed on page", "source", path, "page", index+1, "error", err.Error())
		return ""
	}
	return text
}

// nativePageTexts returns the text layer of every page; a page that cannot
// be decoded yields "". A broken cross-reference table fails the document.
func nativePageTexts(path string) (texts []string, err error) {
	// 交叉引用表损坏时解析库会在 Open/NumPage 中 panic
	defer func() {
		if rec := recover(); rec != nil {
			texts, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	texts = make([]string, n)
	for i := 1; i <= n; i++ {
		texts[i-1] = pageText(r, i, path)
	}
	return texts, nil
}

func pageText(r *pdf.Reader, num int, path string) (text string) {
	// 畸形页面可能在解析库内部 panic
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warnw("failed to decode page", "source", path, "page", num, "error", fmt.Sprint(rec))
			text = ""
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		logger.Warnw("failed to extract page text", "source", path, "page", num, "error", err.Error())
		return ""
	}
	return text
}
