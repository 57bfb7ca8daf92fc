package llm

import "errors"

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	// KindTransport covers connection, DNS, timeout and body read failures.
	KindTransport ErrorKind = "transport"
	// KindDecode means the response body was not valid JSON.
	KindDecode ErrorKind = "decode"
)

// Error is returned by providers for every failed completion.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDecode:
		return "JSON parse error: " + e.Err.Error()
	default:
		return "HTTP error: " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError wraps err as a transport failure.
func TransportError(err error) error {
	return &Error{Kind: KindTransport, Err: err}
}

// DecodeError wraps err as a decode failure.
func DecodeError(err error) error {
	return &Error{Kind: KindDecode, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsDecode reports whether err is a decode failure.
func IsDecode(err error) bool { return KindOf(err) == KindDecode }
