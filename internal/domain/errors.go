package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrRunNotFound       = errors.New("run not found")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrInvalidTransition = errors.New("invalid run status transition")
	ErrNotTerminal       = errors.New("run has not finished")
	ErrRunTerminal       = errors.New("run already finished")
	ErrResultUnavailable = errors.New("result set not available")
)

// InvalidInputf wraps ErrInvalidInput with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StageError is a stage-fatal failure carrying the run failure reason code.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s stage failed: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
