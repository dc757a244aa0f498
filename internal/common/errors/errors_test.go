package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormatting(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := WrapStorageError(cause, CodeStorageFailed, "failed to save upload")

	assert.Equal(t, "[storage:storage_failed] failed to save upload: disk full", err.Error())
	assert.True(t, Is(err, cause))
	assert.NotEmpty(t, err.Stack)

	code, ok := GetErrorCode(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, CodeStorageFailed, code)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, WrapWithDomain(nil, ErrorDomainHTTP, "x", "y"))
	assert.Nil(t, Wrap(nil, "context"))
}

func TestValidationErrorCarriesField(t *testing.T) {
	err := NewValidationErrorf("file", "file must be a PDF, got %q", ".txt")

	field, ok := IsValidationError(err)
	assert.True(t, ok)
	assert.Equal(t, "file", field)

	val, ok := GetErrorData(err, DataKeyField)
	assert.True(t, ok)
	assert.Equal(t, "file", val)

	_, ok = IsValidationError(NewCoachErrorf(CodeNoResources, "nothing"))
	assert.False(t, ok)
}

func TestStatusCodeToError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrTooManyRequests},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusOK, nil},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCodeToError(tt.code))
		})
	}
	assert.EqualError(t, StatusCodeToError(418), "client error: status code 418")
}
