package task

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTask marks a submit for an id that is still registered.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrUnknownTask marks a lookup for an id never created or already reaped.
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidTransition marks a report the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
)

// DuplicateTaskError is returned when submit reuses a live task id.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already registered", e.ID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// UnknownTaskError is returned for ids the registry does not hold.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("task %q is %s; update to %s rejected", e.ID, e.From, e.To)
	}
	return fmt.Sprintf("task %q: invalid transition %s -> %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// IsUnknown reports whether err identifies a missing task.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownTask)
}
