package storage

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks invalid or incomplete backend configuration.
// It is only returned from construction, never from an operation.
var ErrConfiguration = errors.New("storage: invalid configuration")

// OpError wraps any failure inside a table operation with the
// operation name and logical path. Unwrap exposes the cause, so
// errors.Is still matches delta.ErrNoSnapshot and friends through it.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var wrapped *OpError
	if errors.As(err, &wrapped) && wrapped.Op == op {
		return err
	}
	return &OpError{Op: op, Path: path, Err: err}
}
