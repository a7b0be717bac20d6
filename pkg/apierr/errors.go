// Package apierr defines the error kinds shared by the client, auth and
// pagination packages.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry decisions and observability.
type Kind string

const (
	// KindTransport represents connection, DNS and timeout failures.
	KindTransport Kind = "transport"

	// KindHTTPStatus represents a non-2xx response.
	KindHTTPStatus Kind = "http_status"

	// KindDecode represents malformed JSON or a schema mismatch.
	KindDecode Kind = "decode"

	// KindPaginationConfig represents an unresolvable total, a non-positive
	// page size or an unknown pagination strategy.
	KindPaginationConfig Kind = "pagination_config"

	// KindAuth represents an unrecognized identity or a malformed token.
	KindAuth Kind = "auth"

	// KindRetriesExhausted wraps the last transport or HTTP status failure
	// once the retry ceiling has been reached.
	KindRetriesExhausted Kind = "retries_exhausted"

	// KindInvalidRequest represents a request that cannot be sent as
	// described, such as file parts on a GET.
	KindInvalidRequest Kind = "invalid_request"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTransport        = &Error{Kind: KindTransport}
	ErrHTTPStatus       = &Error{Kind: KindHTTPStatus}
	ErrDecode           = &Error{Kind: KindDecode}
	ErrPaginationConfig = &Error{Kind: KindPaginationConfig}
	ErrAuth             = &Error{Kind: KindAuth}
	ErrRetriesExhausted = &Error{Kind: KindRetriesExhausted}
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
)

// Error is the single error type produced by this module.
type Error struct {
	Kind       Kind
	StatusCode int    // HTTP status, KindHTTPStatus only
	Message    string
	Body       string // response body text, KindHTTPStatus only
	Attempts   int    // KindRetriesExhausted only
	Err        error
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Kind == KindHTTPStatus {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Message == "" && t.StatusCode == 0 && t.Err == nil
}

// KindOf returns the kind of the outermost *Error in err's chain, or the
// empty kind when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the executor may retry err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindHTTPStatus:
		return true
	default:
		return false
	}
}
