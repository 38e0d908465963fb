package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout means the call exceeded its deadline and was abandoned.
	ErrTimeout = errors.New("inference timeout")
	// ErrTransport means the provider could not be reached or answered with
	// an error status.
	ErrTransport = errors.New("inference transport error")
	// ErrParse means the provider answered but the payload was unusable.
	ErrParse = errors.New("inference parse error")
	// ErrUnknownProvider means the provider id is not configured.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ErrorKind classifies an inference failure.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTimeout
	KindParse
	KindUnknownProvider
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindParse:
		return ErrParse
	case KindUnknownProvider:
		return ErrUnknownProvider
	default:
		return ErrTransport
	}
}

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindUnknownProvider:
		return "unknown_provider"
	default:
		return "transport"
	}
}

// Error is the typed failure returned by the Gateway. errors.Is matches the
// sentinel of its Kind as well as the wrapped cause.
type Error struct {
	Kind      ErrorKind
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: provider %q", e.Kind.sentinel(), e.Provider)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// NewTransportError classifies a network or HTTP status failure. Client
// errors other than 408 and 429 are not retryable.
func NewTransportError(provider string, status int, err error) *Error {
	retryable := true
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		retryable = false
	}
	return &Error{Kind: KindTransport, Provider: provider, Status: status, Retryable: retryable, Err: err}
}

// NewParseError classifies an unusable payload.
func NewParseError(provider string, err error) *Error {
	return &Error{Kind: KindParse, Provider: provider, Err: err}
}

func newTimeoutError(provider string, err error) *Error {
	return &Error{Kind: KindTimeout, Provider: provider, Err: err}
}

func newUnknownProviderError(provider string) *Error {
	return &Error{Kind: KindUnknownProvider, Provider: provider}
}

// IsRetryable reports whether err is a retryable transport failure.
func IsRetryable(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind == KindTransport && ie.Retryable
	}
	return false
}
