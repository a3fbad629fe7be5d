// Package errors provides a structured error system for cachekit with error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Storage errors
	ErrCodeStorageRoot     ErrorCode = "STORAGE_ROOT"
	ErrCodeStorageRead     ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite    ErrorCode = "STORAGE_WRITE"
	ErrCodeTierUnavailable ErrorCode = "TIER_UNAVAILABLE"

	// Entry errors
	ErrCodeKeyMiss             ErrorCode = "KEY_MISS"
	ErrCodeSerializationFailed ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeChecksumMismatch    ErrorCode = "CHECKSUM_MISMATCH"

	// Resource errors
	ErrCodeCapacityViolation ErrorCode = "CAPACITY_VIOLATION"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeClosed         ErrorCode = "CLOSED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryEntry         ErrorCategory = "entry"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// NewError creates a new cache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "TIER_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "KEY_") || strings.HasPrefix(codeStr, "SERIALIZATION_") ||
		strings.HasPrefix(codeStr, "CHECKSUM_"):
		return CategoryEntry
	case strings.HasPrefix(codeStr, "CAPACITY_"):
		return CategoryResource
	default:
		return CategoryState
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeStorageRead:     true,
		ErrCodeStorageWrite:    true,
		ErrCodeTierUnavailable: true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// IsTierUnavailable reports whether err carries the tier-unavailable code.
func IsTierUnavailable(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code == ErrCodeTierUnavailable
	}
	return false
}

// IsSerialization reports whether err marks a corrupt or undecodable entry.
func IsSerialization(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code == ErrCodeSerializationFailed || cacheErr.Code == ErrCodeChecksumMismatch
	}
	return false
}
