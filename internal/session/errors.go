package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat = errors.New("invalid session token format")
	ErrDecode        = errors.New("session payload could not be decoded")
)

// Error is returned by Loader.Load. Kind is ErrInvalidFormat or ErrDecode, or nil for I/O failures.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	case e.Kind != nil:
		return e.Kind.Error()
	case e.Err != nil:
		return "session: " + e.Err.Error()
	}
	return "session error"
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
