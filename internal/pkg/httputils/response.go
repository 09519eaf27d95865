// Package httputils provides HTTP helpers shared by the gin handlers.
package httputils

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

// WriteResponse writes the response to the client.
// Errors without an errno are reported as ErrInternal.
func WriteResponse(c *gin.Context, err error, data any) {
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, data)
}

// Lang returns the preferred message language of the request.
func Lang(c *gin.Context) string {
	if strings.HasPrefix(strings.ToLower(c.GetHeader("Accept-Language")), "zh") {
		return validator.LangZH
	}
	return validator.LangEN
}

// BindJSON decodes the request body into obj and validates its `validate`
// tags. Decode failures map to ErrBadRequest, rule failures to
// ErrValidationFailed carrying the translated messages.
func BindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return errors.ErrBadRequest.WithCause(err)
	}
	return Validate(c, obj)
}

// Validate validates obj with the global validator.
func Validate(c *gin.Context, obj any) error {
	if verrs := validator.StructWithLang(obj, Lang(c)); verrs.HasErrors() {
		return errors.ErrValidationFailed.WithCause(verrs)
	}
	return nil
}
