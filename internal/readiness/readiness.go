// Package readiness tracks whether the inference backend can serve requests.
package readiness

import (
	"sync/atomic"
)

type State int32

const (
	NotStarted State = iota
	Starting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Starting:
		return "STARTING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Tracker holds the process wide readiness state. Transitions only move
// forward and Failed is terminal. Reads never block.
type Tracker struct {
	state    atomic.Int32
	onChange func(from, to State)
}

// NewTracker returns a tracker in NotStarted. onChange, if set, is called
// after every successful transition.
func NewTracker(onChange func(from, to State)) *Tracker {
	return &Tracker{onChange: onChange}
}

func (t *Tracker) State() State {
	return State(t.state.Load())
}

func (t *Tracker) IsReady() bool {
	return t.State() == Ready
}

// MarkStarting moves NotStarted to Starting
func (t *Tracker) MarkStarting() bool {
	return t.transition(Starting, NotStarted)
}

// MarkReady moves Starting to Ready
func (t *Tracker) MarkReady() bool {
	return t.transition(Ready, Starting)
}

// MarkFailed moves any non terminal state to Failed
func (t *Tracker) MarkFailed() bool {
	return t.transition(Failed, NotStarted, Starting, Ready)
}

func (t *Tracker) transition(to State, from ...State) bool {
	for _, f := range from {
		if t.state.CompareAndSwap(int32(f), int32(to)) {
			if t.onChange != nil {
				t.onChange(f, to)
			}
			return true
		}
	}
	return false
}
