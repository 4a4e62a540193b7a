// Package util contains the error taxonomy and small value types shared
// across holepunch.
package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure so callers can decide whether it is fatal to
// the process or only to a single connection.
type Kind int

const (
	// KindConfig is a malformed or incomplete configuration document.
	KindConfig Kind = iota
	// KindConfigParse is a configuration document that isn't YAML at all.
	KindConfigParse
	// KindCertificate is a key or certificate generation or decode failure.
	KindCertificate
	// KindIO is a filesystem or socket failure.
	KindIO
	// KindProtocol is a malformed envelope on the wire.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConfigParse:
		return "config parse"
	case KindCertificate:
		return "certificate"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure tagged with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return e.Kind.String() + " error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Cause returns the underlying error for github.com/pkg/errors.Cause.
func (e *Error) Cause() error { return e.Err }

// Wrap tags err with kind. A nil err returns nil; an err that already
// carries a Kind is returned as is.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf tags err with kind, adding a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(kind, errors.WithMessagef(err, format, args...))
}

// Errorf creates a new error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, and false if err carries none.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
