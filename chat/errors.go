package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveThread  = errors.New("no active thread")
	ErrThreadNotFound  = errors.New("thread not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrClosed          = errors.New("store is closed")
)

// StateError is an operation the current conversation state does not
// allow. State is left unchanged when one is returned.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateErr(op string, err error) error {
	return &StateError{Op: op, Err: err}
}
