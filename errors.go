package datapipe

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSource          = errors.New("source failure")
	ErrTransform       = errors.New("transform failure")
	ErrTransformPanic  = errors.New("transform panic")
	ErrOverLength      = errors.New("element longer than every bucket boundary")
	ErrPool            = errors.New("worker pool failure")
)

// StageError reports a failure tied to one element of a stage, identified by its sequence index.
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: element %d: %v", e.Stage, e.Index, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
