package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrCodeTierUnavailable, "sqlite store not reachable")

	assert.Equal(t, ErrCodeTierUnavailable, err.Code)
	assert.Equal(t, CategoryStorage, err.Category)
	assert.True(t, err.Retryable)
	assert.False(t, err.Timestamp.IsZero())
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeStorageWrite, CategoryStorage},
		{ErrCodeTierUnavailable, CategoryStorage},
		{ErrCodeKeyMiss, CategoryEntry},
		{ErrCodeSerializationFailed, CategoryEntry},
		{ErrCodeChecksumMismatch, CategoryEntry},
		{ErrCodeCapacityViolation, CategoryResource},
		{ErrCodeClosed, CategoryState},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetCategory(tt.code))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeStorageWrite, "disk full").
		WithComponent("l3").
		WithOperation("put")

	assert.Equal(t, "[l3:put] STORAGE_WRITE: disk full", err.Error())

	bare := NewError(ErrCodeKeyMiss, "no such key")
	assert.Equal(t, "KEY_MISS: no such key", bare.Error())
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("io failure")
	err := NewError(ErrCodeStorageRead, "read failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestErrorIs(t *testing.T) {
	a := NewError(ErrCodeTierUnavailable, "first")
	b := NewError(ErrCodeTierUnavailable, "second")
	c := NewError(ErrCodeKeyMiss, "other")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsTierUnavailable(NewError(ErrCodeTierUnavailable, "x")))
	assert.False(t, IsTierUnavailable(NewError(ErrCodeKeyMiss, "x")))
	assert.False(t, IsTierUnavailable(fmt.Errorf("plain")))

	assert.True(t, IsSerialization(NewError(ErrCodeSerializationFailed, "x")))
	assert.True(t, IsSerialization(NewError(ErrCodeChecksumMismatch, "x")))
	assert.False(t, IsSerialization(NewError(ErrCodeStorageRead, "x")))
}

func TestWithContext(t *testing.T) {
	err := NewError(ErrCodeStorageWrite, "failed").
		WithContext("namespace", "items").
		WithContext("key", "1201")

	assert.Equal(t, "items", err.Context["namespace"])
	assert.Equal(t, "1201", err.Context["key"])
}
