package httputils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// StartSSE writes the event-stream headers and the 200 status.
func StartSSE(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

// WriteSSE writes one "data: {json}\n\n" frame and flushes it.
func WriteSSE(c *gin.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(b)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, b...)
	buf = append(buf, '\n', '\n')
	if _, err := c.Writer.Write(buf); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
