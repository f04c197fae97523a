package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallState is one of the ToolCall lifecycle states. States only move
// forward; a call in a terminal state is immutable.
type CallState string

const (
	StateValidating           CallState = "validating"
	StateAwaitingConfirmation CallState = "awaiting_confirmation"
	StateQueued               CallState = "queued"
	StateExecuting            CallState = "executing"
	StateSuccess              CallState = "success"
	StateError                CallState = "error"
	StateCancelled            CallState = "cancelled"
)

// terminal reports whether a state accepts no further transitions.
func (s CallState) terminal() bool {
	switch s {
	case StateSuccess, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// validTransitions encodes the allowed forward moves of the state machine.
var validTransitions = map[CallState]map[CallState]bool{
	StateValidating:           {StateError: true, StateQueued: true, StateAwaitingConfirmation: true, StateCancelled: true},
	StateAwaitingConfirmation: {StateQueued: true, StateCancelled: true},
	StateQueued:               {StateExecuting: true, StateCancelled: true},
	StateExecuting:            {StateSuccess: true, StateError: true, StateCancelled: true},
}

// Confirmation records a host decision on a gated call.
type Confirmation struct {
	Approved bool
	Remember bool
}

// ToolCall is the full lifecycle record for one scheduled call.
type ToolCall struct {
	ID           string
	Name         string
	Args         json.RawMessage
	State        CallState
	Result       json.RawMessage
	Err          error
	StartedAt    time.Time
	EndedAt      time.Time
	Confirmation *Confirmation
}

// NewToolCall creates a call in the validating state.
func NewToolCall(id, name string, args json.RawMessage) *ToolCall {
	return &ToolCall{ID: id, Name: name, Args: args, State: StateValidating}
}

// Transition moves the call to a new state, rejecting backward moves or any
// move out of a terminal state. Callers must hold the call's lock if the
// call is shared across goroutines (the scheduler owns that).
func (t *ToolCall) Transition(next CallState) error {
	if t.State.terminal() {
		return fmt.Errorf("tool call %s: cannot transition out of terminal state %s", t.ID, t.State)
	}
	allowed := validTransitions[t.State]
	if !allowed[next] {
		return fmt.Errorf("tool call %s: invalid transition %s -> %s", t.ID, t.State, next)
	}
	t.State = next
	return nil
}
