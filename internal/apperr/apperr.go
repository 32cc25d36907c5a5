// Package apperr holds the error classes shared by the tracking core.
//
// Every domain sentinel wraps exactly one class, so callers can match either
// the specific error or its class with errors.Is.
package apperr

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// New returns a sentinel error with the given message that matches class.
func New(msg string, class error) error {
	return &classed{msg: msg, class: class}
}

type classed struct {
	msg   string
	class error
}

func (e *classed) Error() string { return e.msg }
func (e *classed) Unwrap() error { return e.class }
