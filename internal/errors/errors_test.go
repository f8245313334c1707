package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCqsError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	cqsErr := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	require.NotNil(t, cqsErr)
	assert.Equal(t, originalErr, errors.Unwrap(cqsErr))
	assert.True(t, errors.Is(cqsErr, originalErr))
}

func TestCqsError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config error", ErrCodeConfigNotFound, "config file not found", "[ERR_101_CONFIG_NOT_FOUND] config file not found"},
		{"store error", ErrCodeNoIndex, "no index found", "[ERR_201_NO_INDEX] no index found"},
		{"network error", ErrCodeNetworkTimeout, "request timed out", "[ERR_302_NETWORK_TIMEOUT] request timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestCqsError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file A not found", nil)
	err2 := New(ErrCodeFileNotFound, "file B not found", nil)
	assert.True(t, errors.Is(err1, err2))
}

func TestCqsError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)
	assert.False(t, errors.Is(err1, err2))
}

func TestCqsError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil)
	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestCqsError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeNetworkTimeout, "connection timed out", nil)
	err = err.WithSuggestion("check your network connection")
	assert.Equal(t, "check your network connection", err.Suggestion)
}

func TestCqsError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeNoIndex, CategoryStore},
		{ErrCodeSchemaMismatch, CategoryStore},
		{ErrCodeNetworkTimeout, CategoryNetwork},
		{ErrCodeEmbeddingFailure, CategoryNetwork},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestCqsError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeSchemaMismatch, SeverityFatal},
		{ErrCodeDimensionMismatch, SeverityFatal},
		{ErrCodeNotFound, SeverityInfo},
		{ErrCodeFileNotFound, SeverityError},
		{ErrCodeNetworkTimeout, SeverityError},
		{ErrCodeEmbeddingFailure, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestCqsError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeNetworkTimeout, true},
		{ErrCodeEmbeddingFailure, true},
		{ErrCodeLockBusy, true},
		{ErrCodeFileNotFound, false},
		{ErrCodeConfigInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesCqsErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")
	cqsErr := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, cqsErr)
	assert.Equal(t, ErrCodeInternal, cqsErr.Code)
	assert.Equal(t, "something went wrong", cqsErr.Message)
	assert.Equal(t, originalErr, cqsErr.Cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestNoIndex_HasSuggestion(t *testing.T) {
	err := NoIndex("/tmp/proj/.cqs")
	assert.Equal(t, ErrCodeNoIndex, err.Code)
	assert.NotEmpty(t, err.Suggestion)
}

func TestSchemaMismatch_RecordsVersions(t *testing.T) {
	err := SchemaMismatch(1, 3)
	assert.Equal(t, "1", err.Details["stored_version"])
	assert.Equal(t, "3", err.Details["running_version"])
}

func TestNotFound_IsInfoSeverityNotFatal(t *testing.T) {
	err := NotFound("frobnicate")
	assert.Equal(t, SeverityInfo, err.Severity)
	assert.False(t, IsFatal(err))
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable CqsError", New(ErrCodeNetworkTimeout, "timeout", nil), true},
		{"non-retryable CqsError", New(ErrCodeFileNotFound, "not found", nil), false},
		{"wrapped retryable error", Wrap(ErrCodeNetworkTimeout, errors.New("wrapped")), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"fatal error", New(ErrCodeSchemaMismatch, "schema mismatch", nil), true},
		{"dimension mismatch is fatal", New(ErrCodeDimensionMismatch, "bad dims", nil), true},
		{"non-fatal error", New(ErrCodeFileNotFound, "not found", nil), false},
		{"standard error", errors.New("standard error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
