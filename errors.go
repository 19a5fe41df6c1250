package rfpipe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pipelined/rfpipe/internal/state"
)

var (
	// ErrConfig is returned when stream, transforms and buffers cannot be
	// set up together.
	ErrConfig = errors.New("invalid configuration")
	// ErrInvalidState is returned if run method cannot be executed at this moment.
	ErrInvalidState = state.ErrInvalidState
)

// TransformError is returned when a transform fails.
type TransformError struct {
	Index int
	Name  string
	Op    string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %d (%s) %s: %v", e.Index, e.Name, e.Op, e.Err)
}

// Unwrap returns the error of the transform.
func (e *TransformError) Unwrap() error {
	return e.Err
}

// ErrorRun is returned if the run failed and ending the open substream of
// transforms failed too.
type ErrorRun struct {
	ErrExec  error
	ErrFlush error
}

func (e *ErrorRun) Error() string {
	switch {
	case e.ErrExec != nil && e.ErrFlush != nil:
		return fmt.Sprintf("flush error: %v after execute error: %v", e.ErrFlush, e.ErrExec)
	case e.ErrExec != nil:
		return fmt.Sprintf("execute error: %v", e.ErrExec)
	case e.ErrFlush != nil:
		return fmt.Sprintf("flush error: %v", e.ErrFlush)
	}
	return ""
}

// Unwrap returns the errors of execution and flush.
func (e *ErrorRun) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.ErrExec, e.ErrFlush} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Is checks if any of errors match provided sentinel error.
func (e *ErrorRun) Is(err error) bool {
	if e.ErrExec != nil && errors.Is(e.ErrExec, err) {
		return true
	}
	if e.ErrFlush != nil && errors.Is(e.ErrFlush, err) {
		return true
	}
	return false
}

// execErrors wraps errors that might occur when multiple transforms are
// failing.
type execErrors []error

func (e execErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Is checks if any of errors match provided sentinel error.
func (e execErrors) Is(err error) bool {
	for _, se := range e {
		if errors.Is(se, err) {
			return true
		}
	}
	return false
}

// Unwrap returns all errors of the list.
func (e execErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error is list is empty.
func (e execErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
