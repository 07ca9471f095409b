// Package errs defines the error classes shared by the graph, embedding and
// memory stores. Callers classify failures with errors.Is against the
// sentinels below; the wrapped error carries the offending values.
package errs

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound reports a referenced entity, relation or vector that is absent.
	ErrNotFound = goerr.New("not found")

	// ErrConflict reports an id that already exists with a different type.
	ErrConflict = goerr.New("conflict")

	// ErrDimension reports a vector whose width does not match its store.
	ErrDimension = goerr.New("dimension mismatch")

	// ErrRange reports a parameter outside its valid interval.
	ErrRange = goerr.New("out of range")
)

// NotFound wraps ErrNotFound with a message and context values.
func NotFound(msg string, opts ...goerr.Option) error {
	return goerr.Wrap(ErrNotFound, msg, opts...)
}

// Conflict wraps ErrConflict with a message and context values.
func Conflict(msg string, opts ...goerr.Option) error {
	return goerr.Wrap(ErrConflict, msg, opts...)
}

// Dimension wraps ErrDimension, recording the expected and actual widths.
func Dimension(msg string, want, got int, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("want", want), goerr.V("got", got))
	return goerr.Wrap(ErrDimension, msg, opts...)
}

// Range wraps ErrRange with a message and context values.
func Range(msg string, opts ...goerr.Option) error {
	return goerr.Wrap(ErrRange, msg, opts...)
}

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
func IsDimension(err error) bool { return errors.Is(err, ErrDimension) }
func IsRange(err error) bool     { return errors.Is(err, ErrRange) }

// Unit checks that v lies in the closed interval [0, 1].
func Unit(name string, v float64) error {
	if v < 0 || v > 1 || v != v {
		return Range(name+" must be within [0, 1]", goerr.V(name, v))
	}
	return nil
}
