package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeAndParseCode(t *testing.T) {
	code := MakeCode(ServiceRAG, CategoryNetwork, 2)
	assert.Equal(t, 2010002, code)

	service, category, sequence := ParseCode(code)
	assert.Equal(t, ServiceRAG, service)
	assert.Equal(t, CategoryNetwork, category)
	assert.Equal(t, 2, sequence)
	assert.True(t, IsServerError(code))
	assert.False(t, IsClientError(code))
}

func TestRAGCodes_Taxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  *Errno
		http int
		grpc codes.Code
	}{
		{"unsupported format", ErrUnsupportedFormat, http.StatusBadRequest, codes.InvalidArgument},
		{"parse failure", ErrParseFailure, http.StatusUnprocessableEntity, codes.InvalidArgument},
		{"length mismatch", ErrLengthMismatch, http.StatusBadRequest, codes.InvalidArgument},
		{"embedding unavailable", ErrEmbeddingUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
		{"store unavailable", ErrStoreUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
		{"configuration", ErrConfiguration, http.StatusInternalServerError, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.http, tt.err.HTTPStatus())
			assert.Equal(t, tt.grpc, tt.err.GRPCStatus())

			registered, ok := Lookup(tt.err.Code)
			require.True(t, ok)
			assert.Same(t, tt.err, registered)
		})
	}
}

func TestErrno_WithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("upsert batch 2: %w", ErrStoreUnavailable.WithCause(cause))

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, ErrStoreUnavailable.Code, GetCode(err))
	assert.Contains(t, err.Error(), "connection refused")

	// the registered value is untouched
	assert.Nil(t, ErrStoreUnavailable.Unwrap())
}

func TestErrno_WithMessagef(t *testing.T) {
	err := ErrUnsupportedFormat.WithMessagef("unsupported extension %q", ".xyz")
	assert.Equal(t, `unsupported extension ".xyz"`, err.Message("en"))
	assert.Equal(t, "不支持的文档格式", err.Message("zh"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := FromError(stderrors.New("boom"))
	assert.ErrorIs(t, plain, ErrInternal)

	wrapped := FromError(fmt.Errorf("ctx: %w", ErrParseFailure))
	assert.Equal(t, ErrParseFailure.Code, wrapped.Code)
	assert.Equal(t, -1, GetCode(stderrors.New("x")))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		_ = NewRequestErr(ServiceRAG, 1, "dup", "重复")
	})
}

func TestRegisterService_Conflict(t *testing.T) {
	name, ok := GetServiceName(ServiceRAG)
	require.True(t, ok)
	assert.Equal(t, "sentinel-rag", name)

	assert.NotPanics(t, func() { RegisterService(ServiceRAG, "sentinel-rag") })
	assert.Panics(t, func() { RegisterService(ServiceRAG, "other") })
}
