// Package tracing provides OpenTelemetry tracing options.
package tracing

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// ExporterType defines the type of exporter to use.
type ExporterType string

const (
	// ExporterOTLPHTTP exports spans via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterStdout exports spans to stdout (for development).
	ExporterStdout ExporterType = "stdout"
)

// Options defines configuration for OpenTelemetry tracing.
type Options struct {
	// Enabled enables or disables tracing.
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// ServiceName is filled from the app name when empty.
	ServiceName string `json:"service-name" mapstructure:"service-name"`
	// ServiceVersion is filled from the build version when empty.
	ServiceVersion string `json:"service-version" mapstructure:"service-version"`
	// Exporter specifies which exporter to use.
	Exporter ExporterType `json:"exporter" mapstructure:"exporter"`
	// Endpoint is the OTLP HTTP endpoint, e.g. localhost:4318.
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	// Insecure disables TLS for the OTLP connection.
	Insecure bool `json:"insecure" mapstructure:"insecure"`
	// SampleRatio is the fraction of root spans sampled (0.0 to 1.0).
	SampleRatio float64 `json:"sample-ratio" mapstructure:"sample-ratio"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Exporter:    ExporterStdout,
		Endpoint:    "localhost:4318",
		Insecure:    true,
		SampleRatio: 1.0,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "tracing."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable OpenTelemetry tracing.")
	fs.StringVar((*string)(&o.Exporter), p+"exporter", string(o.Exporter), "Span exporter (stdout, otlp-http).")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "OTLP HTTP endpoint.")
	fs.BoolVar(&o.Insecure, p+"insecure", o.Insecure, "Disable TLS for the OTLP exporter.")
	fs.Float64Var(&o.SampleRatio, p+"sample-ratio", o.SampleRatio, "Fraction of traces sampled.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	switch o.Exporter {
	case ExporterStdout:
	case ExporterOTLPHTTP:
		if o.Endpoint == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint is required for the otlp-http exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be stdout or otlp-http, got %q", o.Exporter))
	}
	if o.SampleRatio < 0 || o.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample-ratio must be in [0, 1]"))
	}
	return errs
}
