package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call is the manager-side view of one call session, inbound or outbound.
// The manager holds at most one Call at a time; a Terminated call is
// discarded from the slot and never reused.
type Call struct {
	mu sync.RWMutex

	id        string
	direction Direction
	number    string
	remoteURI string

	state      CallState
	endReason  EndReason
	createdAt  time.Time
	answeredAt time.Time
	endedAt    time.Time

	ts TransportSession
}

func newCall(direction Direction, number, remoteURI string, ts TransportSession) *Call {
	return &Call{
		id:        uuid.New().String(),
		direction: direction,
		number:    number,
		remoteURI: remoteURI,
		state:     StateInitial,
		createdAt: time.Now(),
		ts:        ts,
	}
}

// ID returns the call's local identifier.
func (c *Call) ID() string { return c.id }

// Direction returns whether we placed or received the call.
func (c *Call) Direction() Direction { return c.direction }

// Number returns the dialed or calling phone number.
func (c *Call) Number() string { return c.number }

// RemoteURI returns the remote party SIP address.
func (c *Call) RemoteURI() string { return c.remoteURI }

// State returns the current lifecycle state.
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EndReason returns why the call terminated. Only meaningful once the
// state is Terminated.
func (c *Call) EndReason() EndReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endReason
}

// StartedAt returns when the call was answered, zero if it never was.
func (c *Call) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.answeredAt
}

// Duration returns the talk time of the call so far, zero before answer.
func (c *Call) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.answeredAt.IsZero() {
		return 0
	}
	end := c.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.answeredAt)
}

// transitionTo moves the call to a new state, enforcing the state machine.
func (c *Call) transitionTo(next CallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransitionTo(next) {
		return fmt.Errorf("invalid call state transition: %s -> %s", c.state, next)
	}
	c.state = next
	switch next {
	case StateEstablished:
		c.answeredAt = time.Now()
	case StateTerminated:
		c.endedAt = time.Now()
	}
	return nil
}

func (c *Call) setEndReason(r EndReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endReason = r
}
