package middleware

import (
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

// LoggerOptions 定义访问日志中间件的配置。
type LoggerOptions struct {
	// SkipPaths 不记录访问日志的路径。
	SkipPaths []string `json:"skip-paths" mapstructure:"skip-paths"`
}

// NewLoggerOptions 创建默认配置，健康检查不记录。
func NewLoggerOptions() *LoggerOptions {
	return &LoggerOptions{SkipPaths: []string{"/healthz", "/v1/rag/healthz"}}
}

// AddFlags 添加命令行标志。
func (o *LoggerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.SkipPaths, options.Join(prefixes...)+"middleware.logger.skip-paths", o.SkipPaths, "Paths excluded from access logs.")
}
