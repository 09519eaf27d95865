// Package chunker splits parsed document units into overlapping word windows.
package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Config holds the window parameters, both in words.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns 500-word windows with 50 words of overlap.
func DefaultConfig() Config {
	return Config{Size: 500, Overlap: 50}
}

// Validate requires 0 <= Overlap < Size, otherwise the window never advances.
func (c Config) Validate() error {
	if c.Size <= 0 || c.Overlap < 0 || c.Overlap >= c.Size {
		return errors.ErrInvalidChunkConfig.WithMessagef(
			"chunk overlap must be in [0, chunk size): size=%d overlap=%d", c.Size, c.Overlap)
	}
	return nil
}

// Split turns units into chunks. Units are processed in order and windows
// keep their order inside a unit, so identical input yields identical output.
func Split(units []model.Unit, source string, cfg Config) ([]model.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	step := cfg.Size - cfg.Overlap
	var chunks []model.Chunk
	for _, u := range units {
		words := strings.Fields(u.Text)
		for start, i := 0, 0; start < len(words); start, i = start+step, i+1 {
			end := min(start+cfg.Size, len(words))
			chunks = append(chunks, model.Chunk{
				Text:     strings.Join(words[start:end], " "),
				Source:   source,
				Page:     u.Page,
				Selector: u.Selector,
				ChunkID:  chunkID(source, u, i),
				Type:     model.ChunkTypeDocument,
			})
			// 最后一个窗口已覆盖到末尾，剩余部分全部落在重叠区内
			if end == len(words) {
				break
			}
		}
	}
	return chunks, nil
}

// chunkID is source_p<page>_c<n> for documents and source_<selector>_<n>
// for scraped units.
func chunkID(source string, u model.Unit, index int) string {
	if u.Selector != "" {
		return fmt.Sprintf("%s_%s_%d", source, u.Location(), index)
	}
	return fmt.Sprintf("%s_%s_c%d", source, u.Location(), index)
}

// Chunker applies Split with parameters that can be changed at runtime.
type Chunker struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a Chunker after validating cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk splits units from source with the current parameters.
func (c *Chunker) Chunk(units []model.Unit, source string) ([]model.Chunk, error) {
	return Split(units, source, c.Config())
}

// Config returns the current parameters.
func (c *Chunker) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Update replaces the parameters. Zero values keep the current setting.
// The result is validated as a whole and rejected without side effects.
func (c *Chunker) Update(size, overlap int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg
	if size > 0 {
		next.Size = size
	}
	if overlap > 0 {
		next.Overlap = overlap
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.cfg = next
	return nil
}
