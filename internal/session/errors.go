package session

import "errors"

// Precondition errors surfaced synchronously to callers. None of them
// carries a side effect; the operation that returns one did nothing.
var (
	// ErrNotRegistered is returned by PlaceCall when no registration is active.
	ErrNotRegistered = errors.New("not registered")

	// ErrNoIncomingCall is returned by Answer when no inbound invitation is pending.
	ErrNoIncomingCall = errors.New("no incoming call")

	// ErrBusy is returned when the single session slot is already occupied
	// by a live call. At most one concurrent call is a business rule of the
	// session manager, not of the transport.
	ErrBusy = errors.New("call in progress")

	// ErrNotConnected is returned by operations that need a started
	// transport when Connect was never called or Disconnect already ran.
	ErrNotConnected = errors.New("not connected")
)
