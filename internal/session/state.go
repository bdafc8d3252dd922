package session

import "fmt"

// CallState represents the lifecycle state of a call session
type CallState int

const (
	// StateInitial is the initial state when the session is created
	StateInitial CallState = iota
	// StateEstablishing is after the INVITE was sent (outbound) or the
	// invitation was received (inbound), before the call is answered
	StateEstablishing
	// StateEstablished is after the call is answered and media is active
	StateEstablished
	// StateTerminated is the final state after the call ends, for any reason
	StateTerminated
)

// String returns the string representation of the state
func (s CallState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateEstablishing:
		return "Establishing"
	case StateEstablished:
		return "Established"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[CallState][]CallState{
	StateInitial:      {StateEstablishing, StateTerminated},
	StateEstablishing: {StateEstablished, StateTerminated},
	StateEstablished:  {StateTerminated},
	StateTerminated:   {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from the current state to next is valid
func (s CallState) CanTransitionTo(next CallState) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s CallState) IsTerminal() bool {
	return s == StateTerminated
}

// Direction indicates whether we placed or received the call
type Direction int

const (
	// DirectionInbound - we received the invitation
	DirectionInbound Direction = iota
	// DirectionOutbound - we placed the call
	DirectionOutbound
)

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// EndReason explains why a call session terminated
type EndReason int

const (
	// EndReasonNormal means either side hung up an established call
	EndReasonNormal EndReason = iota
	// EndReasonCancel means the call was torn down before it was answered
	EndReasonCancel
	// EndReasonRejected means the remote side declined the call
	EndReasonRejected
	// EndReasonBusy means a competing call already held the session slot
	EndReasonBusy
	// EndReasonTimeout means the call setup timed out
	EndReasonTimeout
	// EndReasonError means a transport or protocol failure ended the call
	EndReasonError
)

// String returns the string representation of the end reason
func (r EndReason) String() string {
	switch r {
	case EndReasonNormal:
		return "normal"
	case EndReasonCancel:
		return "canceled"
	case EndReasonRejected:
		return "rejected"
	case EndReasonBusy:
		return "busy"
	case EndReasonTimeout:
		return "timeout"
	case EndReasonError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}
