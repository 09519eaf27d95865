package parser

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/kart-io/logger"
	"golang.org/x/text/encoding/charmap"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// Text reads a plain text file as a single unit at location 1. Invalid UTF-8
// is decoded as Latin-1 (ISO 8859-1).
type Text struct{}

// Parse implements Parser.
func (Text) Parse(_ context.Context, path string) ([]model.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []model.Unit{{Page: 1, Text: DecodeText(data, path)}}, nil
}

// DecodeText returns data as UTF-8, decoding it as Latin-1 when it is not
// valid UTF-8.
func DecodeText(data []byte, name string) string {
	if utf8.Valid(data) {
		return string(data)
	}
	logger.Warnw("utf-8 decoding failed, trying latin-1", "source", name)
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
