package lookout

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind categorises client failures.
type Kind int

const (
	// KindUnknown is never produced by this package.
	KindUnknown Kind = iota
	// KindConfig covers missing credentials and invalid stream parameters.
	KindConfig
	// KindAuth covers rejected or malformed token exchanges.
	KindAuth
	// KindTransport covers connection failures, non-success statuses and mid-stream I/O errors.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by the token provider and event stream.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	// Malformed marks an auth failure caused by an unusable token response
	// rather than a rejected request.
	Malformed bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConfigError reports invalid input detected before any request is made.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// NewAuthError reports a failed token exchange.
func NewAuthError(message string, cause error) *Error {
	return &Error{Kind: KindAuth, Message: message, Cause: cause}
}

// NewTransportError reports a connection or stream failure.
func NewTransportError(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Cause: cause}
}

// statusError builds an error of the given kind from a non-success response.
// detail is a short excerpt of the response body, possibly empty.
func statusError(kind Kind, message string, resp *http.Response, detail string) *Error {
	msg := fmt.Sprintf("%s: %s", message, resp.Status)
	if detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail)
	}
	return &Error{Kind: kind, Message: msg, StatusCode: resp.StatusCode}
}

func kindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnknown
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool { return kindOf(err) == KindConfig }

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool { return kindOf(err) == KindAuth }

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool { return kindOf(err) == KindTransport }

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.StatusCode
	}
	return 0
}

// DecodeWarning describes a frame whose data was not a JSON object. It is
// reported to the warning handler and never terminates a stream.
type DecodeWarning struct {
	EventID string
	Event   string
	Data    string
	Err     error
}

func (w DecodeWarning) String() string {
	return fmt.Sprintf("failed to parse event data: %s", w.Data)
}

// excerpt reads at most a few hundred bytes of a response body for error messages.
func excerpt(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(string(data)), " ")
}
