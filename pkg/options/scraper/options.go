// Package scraper provides web scraper options.
package scraper

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// DefaultSelectors are used when a request names no CSS selectors.
var DefaultSelectors = []string{"p", "h1", "h2", "h3", "li", "article", "section"}

// Options contains scraper configuration.
type Options struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries       int           `json:"max-retries" mapstructure:"max-retries"`
	UserAgent        string        `json:"user-agent" mapstructure:"user-agent"`
	MaxConcurrency   int           `json:"max-concurrency" mapstructure:"max-concurrency"`
	RequestsPerSec   float64       `json:"requests-per-second" mapstructure:"requests-per-second"`
	DefaultSelectors []string      `json:"default-selectors" mapstructure:"default-selectors"`
	MaxBodyBytes     int64         `json:"max-body-bytes" mapstructure:"max-body-bytes"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		UserAgent:        "Mozilla/5.0 (compatible; sentinel-rag/1.0)",
		MaxConcurrency:   3,
		RequestsPerSec:   2,
		DefaultSelectors: append([]string(nil), DefaultSelectors...),
		MaxBodyBytes:     10 << 20,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "scraper."
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout for a single page fetch.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Attempts per page, with 2^attempt second backoff.")
	fs.StringVar(&o.UserAgent, p+"user-agent", o.UserAgent, "User-Agent header.")
	fs.IntVar(&o.MaxConcurrency, p+"max-concurrency", o.MaxConcurrency, "Maximum pages fetched at once.")
	fs.Float64Var(&o.RequestsPerSec, p+"requests-per-second", o.RequestsPerSec, "Per-host request rate, 0 disables limiting.")
	fs.StringSliceVar(&o.DefaultSelectors, p+"default-selectors", o.DefaultSelectors, "CSS selectors used when a request names none.")
	fs.Int64Var(&o.MaxBodyBytes, p+"max-body-bytes", o.MaxBodyBytes, "Maximum page body size.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scraper.timeout must be positive"))
	}
	if o.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("scraper.max-retries must be positive"))
	}
	if o.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("scraper.max-concurrency must be positive"))
	}
	if len(o.DefaultSelectors) == 0 {
		errs = append(errs, fmt.Errorf("scraper.default-selectors cannot be empty"))
	}
	return errs
}
