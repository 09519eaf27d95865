package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/kart-io/logger"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract is an Engine backed by a single gosseract client. The client is
// created on first use and calls are serialised.
type Tesseract struct {
	languages []string

	mu     sync.Mutex
	client *gosseract.Client
}

var _ Engine = (*Tesseract)(nil)

// NewTesseract creates a lazily initialised engine for languages.
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}
}

func (t *Tesseract) load() (*gosseract.Client, error) {
	if t.client != nil {
		return t.client, nil
	}
	c := gosseract.NewClient()
	if err := c.SetLanguage(t.languages...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set tesseract languages %v: %w", t.languages, err)
	}
	logger.Infow("tesseract engine loaded", "languages", t.languages)
	t.client = c
	return c, nil
}

// Recognize implements Engine.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.load()
	if err != nil {
		return "", err
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("load region into tesseract: %w", err)
	}
	return c.Text()
}

// Close releases the tesseract client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
