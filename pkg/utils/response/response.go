// Package response provides unified API response structures.
// Every JSON endpoint answers with the same envelope; errors carry the
// errno code so clients can branch on it without parsing messages.
package response

import (
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/infra/middleware/common"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data any `json:"data,omitempty"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the response timestamp (Unix milliseconds)
	Timestamp int64 `json:"timestamp"`

	httpCode int
}

var pool = sync.Pool{
	New: func() any { return new(Response) },
}

// Acquire gets a Response from the pool.
func Acquire() *Response {
	return pool.Get().(*Response)
}

// Release resets r and returns it to the pool.
func Release(r *Response) {
	if r == nil {
		return
	}
	*r = Response{}
	pool.Put(r)
}

// Success creates a successful response with data.
func Success(data any) *Response {
	r := Acquire()
	r.Code = 0
	r.Message = "success"
	r.Data = data
	r.httpCode = http.StatusOK
	r.Timestamp = time.Now().UnixMilli()
	return r
}

// Err creates an error response. Errors without an errno become ErrInternal.
func Err(err error) *Response {
	if err == nil {
		return Success(nil)
	}
	e := errors.FromError(err)
	r := Acquire()
	r.Code = e.Code
	r.Message = message(e)
	r.httpCode = e.HTTPStatus()
	r.Timestamp = time.Now().UnixMilli()
	return r
}

// message returns the errno message, appending the cause for client errors.
// Server-side causes stay in the logs.
func message(e *errors.Errno) string {
	cause := stderrors.Unwrap(e)
	if cause == nil || !errors.IsClientError(e.Code) {
		return e.MessageEN
	}
	return e.MessageEN + ": " + cause.Error()
}

// HTTPStatus returns the HTTP status code for this response.
func (r *Response) HTTPStatus() int {
	if r.httpCode != 0 {
		return r.httpCode
	}
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}

	_, category, _ := errors.ParseCode(r.Code)
	switch category {
	case errors.CategoryRequest:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryPermission:
		return http.StatusForbidden
	case errors.CategoryResource:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Code == 0
}

// OK writes a success envelope.
func OK(c *gin.Context, data any) {
	write(c, Success(data))
}

// Fail writes an error envelope and aborts the handler chain.
func Fail(c *gin.Context, err error) {
	r := Err(err)
	r.RequestID = common.GetRequestID(c.Request.Context())
	c.AbortWithStatusJSON(r.HTTPStatus(), r)
	Release(r)
}

func write(c *gin.Context, r *Response) {
	r.RequestID = common.GetRequestID(c.Request.Context())
	c.JSON(r.HTTPStatus(), r)
	Release(r)
}
