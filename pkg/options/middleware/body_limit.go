package middleware

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

// BodyLimitOptions 定义请求体大小限制中间件的配置。
// 上传接口的限制由 rag.max-upload-size 决定，这里是其余接口的默认值。
type BodyLimitOptions struct {
	// MaxSize 最大请求体大小（字节）。
	MaxSize int64 `json:"max-size" mapstructure:"max-size"`
}

// NewBodyLimitOptions 创建默认配置，最大 4MB。
func NewBodyLimitOptions() *BodyLimitOptions {
	return &BodyLimitOptions{MaxSize: 4 << 20}
}

// AddFlags 添加命令行标志。
func (o *BodyLimitOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Int64Var(&o.MaxSize, options.Join(prefixes...)+"middleware.body-limit.max-size", o.MaxSize, "Maximum request body size in bytes.")
}

// Validate 验证配置。
func (o *BodyLimitOptions) Validate() []error {
	if o == nil {
		return nil
	}
	if o.MaxSize <= 0 {
		return []error{errors.New("middleware.body-limit.max-size must be positive")}
	}
	return nil
}
