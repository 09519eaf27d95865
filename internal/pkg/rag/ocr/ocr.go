// Package ocr extracts text from bitmaps. Reader finds text regions with a
// threshold, dilate and connected-components pass, recognises each region
// with an Engine and regroups the regions into lines top to bottom.
package ocr

import (
	"context"
	"image"
)

// Engine recognises the text of one image region.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) (string, error)

// Recognize implements Engine.
func (f EngineFunc) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}
