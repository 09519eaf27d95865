// Package ocr provides OCR and rasterisation options.
package ocr

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains OCR configuration.
type Options struct {
	// Enabled turns on OCR for scanned pages, images and DOCX media.
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Languages passed to tesseract, e.g. eng, chi_sim.
	Languages []string `json:"languages" mapstructure:"languages"`
	// DPI used to rasterise PDF pages.
	DPI float64 `json:"dpi" mapstructure:"dpi"`
	// YThreshold groups text boxes whose top edges are closer than this into one line.
	YThreshold int `json:"y-threshold" mapstructure:"y-threshold"`
	// BinaryThreshold is the grayscale cut-off for text pixels.
	BinaryThreshold uint8 `json:"binary-threshold" mapstructure:"binary-threshold"`
	// MinBoxSize drops boxes narrower or shorter than this.
	MinBoxSize int `json:"min-box-size" mapstructure:"min-box-size"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Enabled:         true,
		Languages:       []string{"eng"},
		DPI:             150,
		YThreshold:      40,
		BinaryThreshold: 180,
		MinBoxSize:      50,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ocr."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable OCR fallback for scanned pages and images.")
	fs.StringSliceVar(&o.Languages, p+"languages", o.Languages, "Tesseract languages.")
	fs.Float64Var(&o.DPI, p+"dpi", o.DPI, "Rasterisation DPI for PDF pages.")
	fs.IntVar(&o.YThreshold, p+"y-threshold", o.YThreshold, "Vertical pixel distance that joins boxes into one line.")
	fs.Uint8Var(&o.BinaryThreshold, p+"binary-threshold", o.BinaryThreshold, "Grayscale threshold for text pixels.")
	fs.IntVar(&o.MinBoxSize, p+"min-box-size", o.MinBoxSize, "Minimum text box width and height in pixels.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.DPI <= 0 {
		errs = append(errs, fmt.Errorf("ocr.dpi must be positive"))
	}
	if o.YThreshold <= 0 {
		errs = append(errs, fmt.Errorf("ocr.y-threshold must be positive"))
	}
	if len(o.Languages) == 0 {
		errs = append(errs, fmt.Errorf("ocr.languages cannot be empty"))
	}
	return errs
}
