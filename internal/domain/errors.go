package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal presentment failure by the layer it belongs
// to. An unsatisfiable item request is not an error of any kind; selection
// simply returns nothing for it.
type ErrorKind int

const (
	KindTransport ErrorKind = iota + 1 // radio unavailable, disconnect, write failure
	KindFraming                        // malformed chunk sequence
	KindCrypto                         // AEAD or signature failure, malformed frame
	KindProtocol                       // missing mandatory field, inconsistent structure
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindCrypto:
		return "crypto"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error tags a failure with its kind and the operation that produced it.
// The message never contains credential plaintext.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a tagged fatal error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or 0 if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
