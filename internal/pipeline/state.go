package pipeline

import (
	"errors"
	"fmt"
)

type State int

const (
	StateFetched State = iota + 1
	StateExtracted
	StateChunked
	StateDeduped
	StateSkipped
	StateTransformed
	StatePersisted
	StateNotified
)

func (s State) String() string {
	switch s {
	case StateFetched:
		return "fetched"
	case StateExtracted:
		return "extracted"
	case StateChunked:
		return "chunked"
	case StateDeduped:
		return "deduped"
	case StateSkipped:
		return "skipped"
	case StateTransformed:
		return "transformed"
	case StatePersisted:
		return "persisted"
	case StateNotified:
		return "notified"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Error kinds. A StageError matches exactly one of them with errors.Is.
var (
	ErrTransient   = errors.New("transient")
	ErrTerminal    = errors.New("terminal")
	ErrConsistency = errors.New("consistency")
)

var (
	ErrNoText         = errors.New("document contains no extractable text")
	ErrUnknownProfile = errors.New("unknown profile")
)

// StageError reports the stage a run stopped in and how the failure should be
// handled by the caller.
type StageError struct {
	State State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.State, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func transient(s State, err error) error {
	return &StageError{State: s, Kind: ErrTransient, Err: err}
}

func terminal(s State, err error) error {
	return &StageError{State: s, Kind: ErrTerminal, Err: err}
}

// IsTerminal reports whether retrying err cannot succeed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
