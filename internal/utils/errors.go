package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on failure category
// rather than message text.
type Kind string

const (
	KindValidation  Kind = "validation"  // bad or missing path arguments
	KindIO          Kind = "io"          // filesystem failures
	KindParse       Kind = "parse"       // corrupt JSON/XML
	KindSecurity    Kind = "security"    // archive path traversal
	KindUnsupported Kind = "unsupported" // encrypted archives, unknown formats
	KindProtocol    Kind = "protocol"    // non-2xx WebDAV responses
	KindAuth        Kind = "auth"        // 401/403 WebDAV responses
	KindNotFound    Kind = "not_found"   // unknown backup id, nothing importable
	KindConcurrency Kind = "concurrency" // operation already running
)

// Error is a classified error carrying an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error from a printf-style message.
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ValidationError reports a bad or missing argument.
func ValidationError(format string, args ...interface{}) error {
	return newError(KindValidation, format, args...)
}

// IOError wraps a filesystem failure.
func IOError(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindIO, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ParseError wraps corrupt JSON or XML input.
func ParseError(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindParse, Msg: fmt.Sprintf(format, args...), Err: err}
}

// SecurityError reports an archive entry escaping its extraction root.
func SecurityError(format string, args ...interface{}) error {
	return newError(KindSecurity, format, args...)
}

// UnsupportedError reports an encrypted archive or unknown format.
func UnsupportedError(format string, args ...interface{}) error {
	return newError(KindUnsupported, format, args...)
}

// ProtocolError reports a non-2xx remote response.
func ProtocolError(format string, args ...interface{}) error {
	return newError(KindProtocol, format, args...)
}

// AuthError reports a 401/403 remote response.
func AuthError(format string, args ...interface{}) error {
	return newError(KindAuth, format, args...)
}

// NotFoundError reports a missing backup or absent importable content.
func NotFoundError(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

// ConcurrencyError reports an operation rejected because one is running.
func ConcurrencyError(format string, args ...interface{}) error {
	return newError(KindConcurrency, format, args...)
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	return IsKind(err, KindAuth)
}

// IsSecurity reports whether err is a SecurityError.
func IsSecurity(err error) bool {
	return IsKind(err, KindSecurity)
}

// IsUnsupported reports whether err is an UnsupportedError.
func IsUnsupported(err error) bool {
	return IsKind(err, KindUnsupported)
}

// IsConcurrency reports whether err is a ConcurrencyError.
func IsConcurrency(err error) bool {
	return IsKind(err, KindConcurrency)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

// ErrorWithSuggestion wraps an error with a user-friendly suggestion
// for display by the CLI layer.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrCredentialsNotFound returns an error when WebDAV credentials are missing.
func ErrCredentialsNotFound() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("webdav credentials not found"),
		Suggestion: "Run 'nexus sync connect' to configure the WebDAV connection",
	}
}

// ErrBackupNotFound returns an error for an unknown backup id.
func ErrBackupNotFound(id string) error {
	return &ErrorWithSuggestion{
		Err:        NotFoundError("backup not found: %s", id),
		Suggestion: "Use 'nexus backup list' to see available backups",
	}
}
