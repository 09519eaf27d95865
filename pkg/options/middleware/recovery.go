package middleware

import (
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

// RecoveryOptions 定义 panic 恢复中间件的配置。
type RecoveryOptions struct {
	// EnableStackTrace 是否在错误响应中包含堆栈，仅用于开发环境。
	EnableStackTrace bool `json:"enable-stack-trace" mapstructure:"enable-stack-trace"`
}

// NewRecoveryOptions 创建默认配置。
func NewRecoveryOptions() *RecoveryOptions {
	return &RecoveryOptions{}
}

// AddFlags 添加命令行标志。
func (o *RecoveryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.EnableStackTrace, options.Join(prefixes...)+"middleware.recovery.enable-stack-trace",
		o.EnableStackTrace, "Include the panic stack trace in error responses.")
}
