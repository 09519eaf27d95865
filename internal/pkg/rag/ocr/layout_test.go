package ocr

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(w, h int, boxes ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, b := range boxes {
		draw.Draw(img, b, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return img
}

// byPosition names a region after where it sits on the page.
func byPosition(_ context.Context, img image.Image) (string, error) {
	b := img.Bounds()
	switch {
	case b.Min.Y < 100 && b.Min.X < 150:
		return "alpha", nil
	case b.Min.Y < 100:
		return "  beta\n", nil
	default:
		return "gamma", nil
	}
}

func TestDetectRegions(t *testing.T) {
	img := page(500, 500,
		image.Rect(20, 20, 120, 80),
		image.Rect(200, 30, 330, 90),
		image.Rect(20, 200, 180, 260),
		image.Rect(400, 400, 405, 405), // noise
	)

	rects := DetectRegions(img, DefaultLayoutConfig())
	require.Len(t, rects, 3)
	// 10x10 kernel twice: grows 8px before and 10px after the ink
	assert.Equal(t, image.Rect(12, 12, 130, 90), rects[0])
	assert.Equal(t, image.Rect(192, 22, 340, 100), rects[1])
	assert.Equal(t, image.Rect(12, 192, 190, 270), rects[2])
}

func TestDetectRegions_MergesNearbyInk(t *testing.T) {
	img := page(300, 200,
		image.Rect(20, 20, 80, 90),
		image.Rect(90, 20, 150, 90),
	)
	rects := DetectRegions(img, DefaultLayoutConfig())
	require.Len(t, rects, 1)
	assert.Equal(t, 12, rects[0].Min.X)
	assert.Equal(t, 160, rects[0].Max.X)
}

func TestDetectRegions_Blank(t *testing.T) {
	assert.Empty(t, DetectRegions(page(200, 200), DefaultLayoutConfig()))
	assert.Empty(t, DetectRegions(image.NewRGBA(image.Rect(0, 0, 0, 0)), DefaultLayoutConfig()))
}

func TestReader_Read(t *testing.T) {
	img := page(500, 500,
		image.Rect(20, 20, 120, 80),
		image.Rect(200, 30, 330, 90),
		image.Rect(20, 200, 180, 260),
	)
	r := NewReader(EngineFunc(byPosition), DefaultLayoutConfig())

	text, err := r.Read(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta\ngamma", text)

	r.SetYThreshold(5)
	text, err = r.Read(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\ngamma", text)
}

func TestReader_SkipsFailedRegions(t *testing.T) {
	img := page(500, 500,
		image.Rect(20, 20, 120, 80),
		image.Rect(20, 200, 180, 260),
	)
	var calls atomic.Int32
	engine := EngineFunc(func(ctx context.Context, img image.Image) (string, error) {
		if calls.Add(1) == 1 {
			return "", fmt.Errorf("engine crashed")
		}
		return byPosition(ctx, img)
	})

	text, err := NewReader(engine, DefaultLayoutConfig()).Read(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "gamma", text)
}

func TestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := page(200, 200, image.Rect(20, 20, 120, 120))
	_, err := NewReader(EngineFunc(byPosition), DefaultLayoutConfig()).Read(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupLines(t *testing.T) {
	blocks := []Block{
		{Bounds: image.Rect(0, 10, 10, 20), Text: "a"},
		{Bounds: image.Rect(20, 30, 30, 40), Text: "b"},
		{Bounds: image.Rect(0, 60, 10, 70), Text: "c"},
		{Bounds: image.Rect(0, 200, 10, 210), Text: "d"},
	}
	assert.Equal(t, []string{"a b c", "d"}, GroupLines(blocks, 40))
	assert.Equal(t, []string{"a", "b", "c", "d"}, GroupLines(blocks, 10))
	assert.Empty(t, GroupLines(nil, 40))
}
