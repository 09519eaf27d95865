// Package middleware provides HTTP middleware configuration options.
package middleware

import (
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 聚合 HTTP 中间件配置，安装顺序固定为
// Recovery, RequestID, Logger, Tracing, BodyLimit, RateLimit。
type Options struct {
	Recovery  *RecoveryOptions  `json:"recovery" mapstructure:"recovery"`
	RequestID *RequestIDOptions `json:"request-id" mapstructure:"request-id"`
	Logger    *LoggerOptions    `json:"logger" mapstructure:"logger"`
	BodyLimit *BodyLimitOptions `json:"body-limit" mapstructure:"body-limit"`
	RateLimit *RateLimitOptions `json:"rate-limit" mapstructure:"rate-limit"`
}

// NewOptions 创建默认中间件配置。
func NewOptions() *Options {
	return &Options{
		Recovery:  NewRecoveryOptions(),
		RequestID: NewRequestIDOptions(),
		Logger:    NewLoggerOptions(),
		BodyLimit: NewBodyLimitOptions(),
		RateLimit: NewRateLimitOptions(),
	}
}

// AddFlags adds flags for every middleware.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	o.Recovery.AddFlags(fs, prefixes...)
	o.RequestID.AddFlags(fs, prefixes...)
	o.Logger.AddFlags(fs, prefixes...)
	o.BodyLimit.AddFlags(fs, prefixes...)
	o.RateLimit.AddFlags(fs, prefixes...)
}

// Validate validates every middleware option.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	errs = append(errs, o.BodyLimit.Validate()...)
	errs = append(errs, o.RateLimit.Validate()...)
	return errs
}
