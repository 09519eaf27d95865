package middleware

import (
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

// RequestIDOptions 定义请求 ID 中间件的配置。
type RequestIDOptions struct {
	// Header 读取与回写请求 ID 的头名称。
	Header string `json:"header" mapstructure:"header"`
}

// NewRequestIDOptions 创建默认配置。
func NewRequestIDOptions() *RequestIDOptions {
	return &RequestIDOptions{Header: "X-Request-ID"}
}

// AddFlags 添加命令行标志。
func (o *RequestIDOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Header, options.Join(prefixes...)+"middleware.request-id.header", o.Header, "Request ID header name.")
}
