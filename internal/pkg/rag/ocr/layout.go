package ocr

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sort"
	"strings"
	"sync"

	"github.com/kart-io/logger"
)

// LayoutConfig controls region detection and line grouping.
type LayoutConfig struct {
	// BinaryThreshold: pixels at or below this gray level are ink.
	BinaryThreshold uint8
	// KernelSize is the side of the square dilation kernel.
	KernelSize int
	// Iterations is the number of dilation passes.
	Iterations int
	// MinBoxSize drops regions whose width or height is not above it.
	MinBoxSize int
	// YThreshold joins regions whose top edges differ by less than it.
	YThreshold int
}

// DefaultLayoutConfig returns threshold 180, a 10x10 kernel applied twice,
// 50px minimum boxes and 40px line grouping.
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		BinaryThreshold: 180,
		KernelSize:      10,
		Iterations:      2,
		MinBoxSize:      50,
		YThreshold:      40,
	}
}

// Block is a recognised region.
type Block struct {
	Bounds image.Rectangle
	Text   string
}

// Reader runs layout-aware OCR over whole pages.
type Reader struct {
	engine Engine

	mu  sync.RWMutex
	cfg LayoutConfig
}

// NewReader creates a Reader over engine.
func NewReader(engine Engine, cfg LayoutConfig) *Reader {
	def := DefaultLayoutConfig()
	if cfg.KernelSize <= 0 {
		cfg.KernelSize = def.KernelSize
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.YThreshold <= 0 {
		cfg.YThreshold = def.YThreshold
	}
	return &Reader{engine: engine, cfg: cfg}
}

// Config returns the current layout configuration.
func (r *Reader) Config() LayoutConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetYThreshold changes the line grouping distance; n <= 0 is ignored.
func (r *Reader) SetYThreshold(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.cfg.YThreshold = n
	r.mu.Unlock()
}

// Read returns the page text, one grouped line per row. A region the engine
// fails on is logged and skipped.
func (r *Reader) Read(ctx context.Context, img image.Image) (string, error) {
	cfg := r.Config()

	var blocks []Block
	for _, rect := range DetectRegions(img, cfg) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := r.engine.Recognize(ctx, crop(img, rect))
		if err != nil {
			logger.Warnw("ocr failed on region", "region", rect.String(), "error", err.Error())
			continue
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		blocks = append(blocks, Block{Bounds: rect, Text: text})
	}
	return strings.Join(GroupLines(blocks, cfg.YThreshold), "\n"), nil
}

// GroupLines walks blocks in order and starts a new line whenever a block's
// top edge is YThreshold or more away from the previous block's.
func GroupLines(blocks []Block, yThreshold int) []string {
	var (
		lines   []string
		current []string
		prevY   int
	)
	for i, b := range blocks {
		if i > 0 && abs(b.Bounds.Min.Y-prevY) >= yThreshold {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
		current = append(current, b.Text)
		prevY = b.Bounds.Min.Y
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

// DetectRegions returns the bounding boxes of dilated ink blobs larger than
// MinBoxSize in both directions, sorted top to bottom then left to right.
func DetectRegions(img image.Image, cfg LayoutConfig) []image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			mask[y*w+x] = g.Y <= cfg.BinaryThreshold
		}
	}
	for i := 0; i < cfg.Iterations; i++ {
		mask = dilate(mask, w, h, cfg.KernelSize)
	}

	var rects []image.Rectangle
	for _, r := range components(mask, w, h) {
		if r.Dx() > cfg.MinBoxSize && r.Dy() > cfg.MinBoxSize {
			rects = append(rects, r.Add(b.Min))
		}
	}
	sort.SliceStable(rects, func(i, j int) bool {
		if rects[i].Min.Y != rects[j].Min.Y {
			return rects[i].Min.Y < rects[j].Min.Y
		}
		return rects[i].Min.X < rects[j].Min.X
	})
	return rects
}

// dilate applies a k x k rectangular max filter anchored at the kernel
// centre, as two separable passes.
func dilate(src []bool, w, h, k int) []bool {
	before := k / 2
	after := k - before - 1

	tmp := make([]bool, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		spread(row, tmp[y*w:(y+1)*w], before, after)
	}

	dst := make([]bool, len(src))
	col := make([]bool, h)
	out := make([]bool, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		spread(col, out, before, after)
		for y := 0; y < h; y++ {
			dst[y*w+x] = out[y]
		}
	}
	return dst
}

// spread sets dst[i] when any src in [i-before, i+after] is set.
func spread(src, dst []bool, before, after int) {
	n := len(src)
	// 前缀计数求窗口内是否存在前景像素
	prefix := make([]int, n+1)
	for i := 0; i < n; i++ {
		prefix[i+1] = prefix[i]
		if src[i] {
			prefix[i+1]++
		}
	}
	for i := 0; i < n; i++ {
		lo := max(i-before, 0)
		hi := min(i+after, n-1)
		dst[i] = prefix[hi+1]-prefix[lo] > 0
	}
}

// components labels 8-connected foreground blobs and returns their bounds.
func components(mask []bool, w, h int) []image.Rectangle {
	seen := make([]bool, len(mask))
	var (
		rects []image.Rectangle
		stack []int
	)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		minX, minY, maxX, maxY := w, h, -1, -1
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					q := ny*w + nx
					if mask[q] && !seen[q] {
						seen[q] = true
						stack = append(stack, q)
					}
				}
			}
		}
		rects = append(rects, image.Rect(minX, minY, maxX+1, maxY+1))
	}
	return rects
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
