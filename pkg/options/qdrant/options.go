// Package qdrantopts provides options for the Qdrant gRPC client.
package qdrantopts

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Qdrant client configuration.
type Options struct {
	// URL overrides Host, Port and UseTLS, e.g. https://xyz.cloud.qdrant.io:6334.
	// Read from QDRANT_URL when empty.
	URL string `json:"url" mapstructure:"url"`

	// Host is the Qdrant server host.
	Host string `json:"host" mapstructure:"host"`

	// Port is the Qdrant gRPC port.
	Port int `json:"port" mapstructure:"port"`

	// APIKey is read from QDRANT_API_KEY when empty.
	APIKey string `json:"-" mapstructure:"api-key"`

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `json:"use-tls" mapstructure:"use-tls"`

	// Timeout bounds every RPC.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Host:    "localhost",
		Port:    6334,
		Timeout: 30 * time.Second,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "qdrant."
	fs.StringVar(&o.URL, p+"url", o.URL, "Qdrant URL; overrides host, port and use-tls.")
	fs.StringVar(&o.Host, p+"host", o.Host, "Qdrant host.")
	fs.IntVar(&o.Port, p+"port", o.Port, "Qdrant gRPC port.")
	fs.BoolVar(&o.UseTLS, p+"use-tls", o.UseTLS, "Use TLS for the Qdrant connection.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout for each Qdrant RPC.")
}

// Complete resolves environment fallbacks and splits URL into host, port and TLS.
func (o *Options) Complete() error {
	if o.URL == "" {
		o.URL = os.Getenv("QDRANT_URL")
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	if o.URL == "" {
		return nil
	}

	u, err := url.Parse(o.URL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid qdrant url %q", o.URL)
	}
	o.Host = u.Hostname()
	o.UseTLS = u.Scheme == "https"
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid qdrant port %q", port)
		}
		// REST 端口 6333 换成对应的 gRPC 端口
		if n == 6333 {
			n = 6334
		}
		o.Port = n
	}
	return nil
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("qdrant host is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("qdrant port must be in 1-65535, got %d", o.Port))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("qdrant timeout must be positive"))
	}
	return errs
}
