package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// BodyLimitConfig 请求体大小限制配置。
type BodyLimitConfig struct {
	// MaxSize 默认最大请求体大小（字节）。
	MaxSize int64
	// PathLimits 按路径前缀覆盖 MaxSize，例如文件上传接口。
	PathLimits map[string]int64
}

// BodyLimit 返回一个请求体大小限制中间件。
func BodyLimit(maxSize int64) gin.HandlerFunc {
	return BodyLimitWithConfig(BodyLimitConfig{MaxSize: maxSize})
}

// BodyLimitWithConfig 返回一个带配置的请求体大小限制中间件。
// Content-Length 超限时立即拒绝，否则用 http.MaxBytesReader 限制实际读取。
func BodyLimitWithConfig(config BodyLimitConfig) gin.HandlerFunc {
	if config.MaxSize <= 0 {
		config.MaxSize = 4 << 20
	}

	return func(c *gin.Context) {
		limit := config.MaxSize
		for prefix, l := range config.PathLimits {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				limit = l
				break
			}
		}

		if c.Request.ContentLength > limit {
			logger.Warnw("request body too large",
				"path", c.Request.URL.Path,
				"content_length", c.Request.ContentLength,
				"max_size", limit,
			)
			response.Fail(c, errors.ErrRequestTooLarge)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
