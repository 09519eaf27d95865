package parser

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// OCR reads the text of a whole page or picture. *ocr.Reader implements it.
type OCR interface {
	Read(ctx context.Context, img image.Image) (string, error)
}

// Image OCRs a JPEG or PNG file into a single unit at location 1.
type Image struct {
	OCR OCR
}

// Parse implements Parser.
func (p Image) Parse(ctx context.Context, path string) ([]model.Unit, error) {
	if p.OCR == nil {
		return nil, errors.ErrParseFailure.WithMessage("ocr is disabled, images cannot be parsed")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	text, err := p.OCR.Read(ctx, img)
	if err != nil {
		return nil, err
	}
	return []model.Unit{{Page: 1, Text: text}}, nil
}
