// Package errs defines the closed error taxonomy shared by every core
// component. Kinds are machine-readable; Error carries an optional Detail
// for provider/driver-specific information that should not leak into the
// message shown to an LLM or a user.
package errs

import "fmt"

// Kind is a closed set of error categories.
type Kind string

const (
	ConfigError           Kind = "ConfigError"
	ConnectError          Kind = "ConnectError"
	AuthError             Kind = "AuthError"
	UnsupportedDialectErr Kind = "UnsupportedDialectError"
	QueryError            Kind = "QueryError"
	TxStateError          Kind = "TxStateError"
	ReadOnlyError         Kind = "ReadOnlyError"
	TimeoutError          Kind = "TimeoutError"
	CancelledError        Kind = "CancelledError"
	InvalidToolCallError  Kind = "InvalidToolCallError"
	ToolExecutionError    Kind = "ToolExecutionError"
	RiskRejectedError     Kind = "RiskRejectedError"
	LLMTransportError     Kind = "LLMTransportError"
	LLMProtocolError      Kind = "LLMProtocolError"
	RateLimitError        Kind = "RateLimitError"
	CompressionError      Kind = "CompressionError"
	InternalError         Kind = "InternalError"
)

// Error is the error type every core boundary returns.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that preserves cause for errors.Is/As and puts
// its text in Detail.
func Wrap(kind Kind, message string, cause error) *Error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Detail: detail, cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
