// Package state defines the lifecycle of a stream run.
//
//	Idle -> StartSubstream -> SubstreamOpen
//	SubstreamOpen -> SetupWrite -> WritePending
//	WritePending -> FinalizeWrite -> SubstreamOpen
//	SubstreamOpen -> EndSubstream -> Idle
package state

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned if run method cannot be executed at this moment.
	ErrInvalidState = errors.New("invalid state")
)

// State identifies one of the possible states run can be in.
type State interface {
	transition(Event) (State, error)
	fmt.Stringer
}

// states
type (
	idle          struct{}
	substreamOpen struct{}
	writePending  struct{}
)

// states variables
var (
	Idle          idle          // Idle means that no substream is open.
	SubstreamOpen substreamOpen // SubstreamOpen means that stream can set up writes.
	WritePending  writePending  // WritePending means that write must be finalized.
)

// Event triggers the state change.
type Event int

// events
const (
	StartSubstream Event = iota
	SetupWrite
	FinalizeWrite
	EndSubstream
)

func (e Event) String() string {
	switch e {
	case StartSubstream:
		return "start substream"
	case SetupWrite:
		return "setup write"
	case FinalizeWrite:
		return "finalize write"
	case EndSubstream:
		return "end substream"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition returns the state that follows s after e. If e cannot happen
// in s, s is returned together with an error wrapping ErrInvalidState.
func Transition(s State, e Event) (State, error) {
	return s.transition(e)
}

func (s idle) transition(e Event) (State, error) {
	if e == StartSubstream {
		return SubstreamOpen, nil
	}
	return s, invalid(s, e)
}

func (s substreamOpen) transition(e Event) (State, error) {
	switch e {
	case SetupWrite:
		return WritePending, nil
	case EndSubstream:
		return Idle, nil
	}
	return s, invalid(s, e)
}

func (s writePending) transition(e Event) (State, error) {
	if e == FinalizeWrite {
		return SubstreamOpen, nil
	}
	return s, invalid(s, e)
}

func (idle) String() string {
	return "idle"
}

func (substreamOpen) String() string {
	return "substream open"
}

func (writePending) String() string {
	return "write pending"
}

func invalid(s State, e Event) error {
	return fmt.Errorf("%w: %v in %v state", ErrInvalidState, e, s)
}
