package middleware

import (
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

// RateLimitOptions 定义按客户端 IP 限流的配置。
type RateLimitOptions struct {
	// Enabled 是否启用限流。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// RequestsPerSecond 每个客户端的持续速率。
	RequestsPerSecond float64 `json:"requests-per-second" mapstructure:"requests-per-second"`

	// Burst 令牌桶容量。
	Burst int `json:"burst" mapstructure:"burst"`

	// SkipPaths 不限流的路径。
	SkipPaths []string `json:"skip-paths" mapstructure:"skip-paths"`

	// IdleTTL 超过该时间未出现的客户端限流器会被回收。
	IdleTTL time.Duration `json:"idle-ttl" mapstructure:"idle-ttl"`
}

// NewRateLimitOptions 创建默认配置。
func NewRateLimitOptions() *RateLimitOptions {
	return &RateLimitOptions{
		Enabled:           true,
		RequestsPerSecond: 10,
		Burst:             20,
		SkipPaths:         []string{"/healthz", "/v1/rag/healthz"},
		IdleTTL:           10 * time.Minute,
	}
}

// AddFlags 添加命令行标志。
func (o *RateLimitOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "middleware.rate-limit."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable per-client rate limiting.")
	fs.Float64Var(&o.RequestsPerSecond, p+"requests-per-second", o.RequestsPerSecond, "Sustained requests per second per client.")
	fs.IntVar(&o.Burst, p+"burst", o.Burst, "Burst size per client.")
	fs.StringSliceVar(&o.SkipPaths, p+"skip-paths", o.SkipPaths, "Paths excluded from rate limiting.")
	fs.DurationVar(&o.IdleTTL, p+"idle-ttl", o.IdleTTL, "Evict limiters of clients idle for this long.")
}

// Validate 验证配置。
func (o *RateLimitOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("middleware.rate-limit.requests-per-second must be positive"))
	}
	if o.Burst <= 0 {
		errs = append(errs, errors.New("middleware.rate-limit.burst must be positive"))
	}
	return errs
}
