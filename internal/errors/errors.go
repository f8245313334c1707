package errors

import "fmt"

// CqsError is the structured error type returned by the core library.
// The core never prints or exits (spec.md §7's propagation policy) — it
// only ever returns a CqsError, leaving presentation to a collaborator.
type CqsError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *CqsError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CqsError) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, &CqsError{Code: ...}) comparisons by code.
func (e *CqsError) Is(target error) bool {
	t, ok := target.(*CqsError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *CqsError) WithDetail(key, value string) *CqsError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *CqsError) WithSuggestion(suggestion string) *CqsError {
	e.Suggestion = suggestion
	return e
}

// New builds a CqsError; category, severity, and retryability are derived from code.
func New(code, message string, cause error) *CqsError {
	return &CqsError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

func Wrap(code string, err error) *CqsError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NoIndex — the store file is absent; every read-path command returns this.
func NoIndex(dir string) *CqsError {
	return New(ErrCodeNoIndex, "no index found at "+dir, nil).
		WithSuggestion("run 'cqs index' to build one")
}

// SchemaMismatch — the on-disk schema_version is older than the running code.
func SchemaMismatch(stored, running int) *CqsError {
	return New(ErrCodeSchemaMismatch, "index schema is older than this build", nil).
		WithDetail("stored_version", fmt.Sprint(stored)).
		WithDetail("running_version", fmt.Sprint(running)).
		WithSuggestion("rebuild required")
}

// SchemaNewerThanBinary — the on-disk schema_version is newer than the running code.
func SchemaNewerThanBinary(stored, running int) *CqsError {
	return New(ErrCodeSchemaNewerThanBin, "index schema is newer than this build", nil).
		WithDetail("stored_version", fmt.Sprint(stored)).
		WithDetail("running_version", fmt.Sprint(running)).
		WithSuggestion("upgrade binary")
}

// ModelMismatch — the stored model_name differs from the running embedder's.
func ModelMismatch(stored, running string) *CqsError {
	return New(ErrCodeModelMismatch, "embedder model does not match indexed model", nil).
		WithDetail("stored_model", stored).
		WithDetail("running_model", running)
}

// ParseErrorFor — a single file failed to parse; logged and counted, never fatal.
func ParseErrorFor(file string, cause error) *CqsError {
	return New(ErrCodeParseError, "failed to parse "+file, cause).
		WithDetail("file", file)
}

// EmbeddingFailure — a batch failed to embed; retried once at reduced size by the caller.
func EmbeddingFailure(cause error) *CqsError {
	return New(ErrCodeEmbeddingFailure, "embedding request failed", cause)
}

// ChecksumMismatch — an on-disk file's BLAKE3 hash does not match its recorded checksum.
func ChecksumMismatch(file, expected, actual string) *CqsError {
	return New(ErrCodeChecksumMismatch, "checksum mismatch for "+file, nil).
		WithDetail("file", file).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// DimensionMismatch — an embedding's length does not equal the fixed dimension.
func DimensionMismatch(got, want int) *CqsError {
	return New(ErrCodeDimensionMismatch, "embedding dimension mismatch", nil).
		WithDetail("got", fmt.Sprint(got)).
		WithDetail("want", fmt.Sprint(want))
}

// LockBusy — another mutating process holds index.lock.
func LockBusy(path string, pid int) *CqsError {
	e := New(ErrCodeLockBusy, "index is locked by another process", nil).
		WithDetail("lock_path", path)
	if pid > 0 {
		e = e.WithDetail("pid", fmt.Sprint(pid))
	}
	return e
}

// NotFound — a structured empty result for graph/trace/impact lookups, not a hard error.
func NotFound(symbol string) *CqsError {
	return New(ErrCodeNotFound, "not found: "+symbol, nil).
		WithDetail("symbol", symbol)
}

func InternalError(message string, cause error) *CqsError {
	return New(ErrCodeInternal, message, cause)
}

func IsRetryable(err error) bool {
	ce, ok := err.(*CqsError)
	return ok && ce.Retryable
}

func IsFatal(err error) bool {
	ce, ok := err.(*CqsError)
	return ok && ce.Severity == SeverityFatal
}

func GetCode(err error) string {
	if ce, ok := err.(*CqsError); ok {
		return ce.Code
	}
	return ""
}

func GetCategory(err error) Category {
	if ce, ok := err.(*CqsError); ok {
		return ce.Category
	}
	return ""
}
