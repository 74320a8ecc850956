package hub

import (
	"errors"

	"livehub/internal/transport"
)

// moduleNotFoundError is returned for lookups of unknown module names.
type moduleNotFoundError struct{ name string }

func (e moduleNotFoundError) Error() string { return "module not found: " + e.name }

// ErrModuleNotFound constructs a moduleNotFoundError.
func ErrModuleNotFound(name string) error { return moduleNotFoundError{name: name} }

// IsModuleNotFound reports whether err indicates a missing module.
func IsModuleNotFound(err error) bool {
	var e moduleNotFoundError
	return errors.As(err, &e)
}

// invalidNameError signals a module name that cannot be used as a key.
type invalidNameError struct{ cause error }

func (e invalidNameError) Error() string { return e.cause.Error() }
func (e invalidNameError) Unwrap() error { return e.cause }

// IsInvalidName reports whether err indicates a rejected module name.
func IsInvalidName(err error) bool {
	var e invalidNameError
	return errors.As(err, &e)
}

// IsClosed reports whether err comes from using a closed hub.
func IsClosed(err error) bool {
	return errors.Is(err, transport.ErrLoopClosed)
}
