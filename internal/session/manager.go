// Package session implements the softphone's SIP session manager: one
// user agent, one registration and at most one active call per process.
// It translates transport events into a small stable listener contract
// and owns the registration keep-alive policy.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crmdesk/softphone/internal/metrics"
)

// Status is a point-in-time snapshot of the manager, safe to hand to the
// UI layer. It carries values only, never internal references.
type Status struct {
	Connected  bool          `json:"connected"`
	Registered bool          `json:"registered"`
	InCall     bool          `json:"in_call"`
	CallState  string        `json:"call_state,omitempty"`
	Direction  string        `json:"direction,omitempty"`
	Number     string        `json:"number,omitempty"`
	RemoteURI  string        `json:"remote_uri,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Manager owns exactly one transport, one registration and a single call
// slot. Construct one per process and inject it into the control surface;
// running two managers with the same identity is unsupported.
type Manager struct {
	factory  TransportFactory
	notifier *notifier

	mu         sync.Mutex
	cfg        Config
	transport  Transport
	connected  bool
	registered bool
	current    *Call

	keepAlive *keepAlive
}

// NewManager creates a session manager that builds its transport through
// factory on each Connect.
func NewManager(factory TransportFactory) *Manager {
	m := &Manager{
		factory:  factory,
		notifier: newNotifier(),
	}
	m.keepAlive = newKeepAlive(25*time.Second, m.probe, func(error) {
		metrics.KeepAliveFailures.Inc()
	})
	return m
}

// Subscribe registers a listener for session events and returns its
// unsubscribe function. Multiple subscribers are supported.
func (m *Manager) Subscribe(l Listener) func() {
	return m.notifier.subscribe(l)
}

// Connect builds the transport for cfg, starts it and registers. A prior
// connection, if any, is torn down first. The returned error reflects the
// start/register exchange; the OnRegistered event remains the
// authoritative completion signal.
func (m *Manager) Connect(ctx context.Context, cfg Config) error {
	// A new Connect fully replaces the previous configuration and agent.
	m.Disconnect(ctx)

	cfg = cfg.withDefaults()

	t, err := m.factory(cfg)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	t.SetHandler(TransportHandler{
		OnConnected:    m.onTransportConnected,
		OnDisconnected: m.onTransportDisconnected,
		OnRegistered:   m.onRegistered,
		OnUnregistered: m.onUnregistered,
		OnInvitation:   m.onInvitation,
	})

	m.mu.Lock()
	m.cfg = cfg
	m.transport = t
	m.keepAlive.interval = cfg.KeepAliveInterval
	m.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := t.Start(startCtx); err != nil {
		m.failConnect(t)
		return fmt.Errorf("start transport: %w", err)
	}
	if err := t.Register(ctx); err != nil {
		m.failConnect(t)
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// failConnect unwinds a half-finished Connect.
func (m *Manager) failConnect(t Transport) {
	m.keepAlive.Stop()
	if err := t.Stop(); err != nil {
		slog.Warn("[Session] Transport stop after failed connect", "error", err)
	}
	m.mu.Lock()
	if m.transport == t {
		m.transport = nil
		m.connected = false
		m.registered = false
	}
	m.mu.Unlock()
}

// PlaceCall dials number through the active registration. Fails with
// ErrNotRegistered when no registration is active and with ErrBusy when
// the session slot already holds a live call. One attempt, no retry.
func (m *Manager) PlaceCall(ctx context.Context, number string) (*Call, error) {
	m.mu.Lock()
	t := m.transport
	if t == nil || !m.registered {
		m.mu.Unlock()
		return nil, ErrNotRegistered
	}
	if m.current != nil && !m.current.State().IsTerminal() {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	noAnswer := m.cfg.NoAnswerTimeout
	m.mu.Unlock()

	ts, err := t.NewCall(number)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	call := newCall(DirectionOutbound, number, ts.RemoteURI(), ts)

	// Reserve the single session slot. A competing inbound invitation may
	// have won it between the check above and here.
	m.mu.Lock()
	if m.current != nil && !m.current.State().IsTerminal() {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.current = call
	m.mu.Unlock()

	m.watchSession(call, ts)
	metrics.CallsTotal.WithLabelValues(call.Direction().String()).Inc()

	if err := call.transitionTo(StateEstablishing); err != nil {
		slog.Error("[Session] Outbound call state", "error", err)
	}

	slog.Info("[Session] Placing call", "number", number, "target", call.RemoteURI())

	inviteCtx, cancel := context.WithTimeout(ctx, noAnswer)
	defer cancel()

	if err := ts.Invite(inviteCtx); err != nil {
		// The session's own Terminated transition clears the slot.
		metrics.CallFailures.Inc()
		m.notifier.callFailed(err.Error())
		return nil, fmt.Errorf("invite: %w", err)
	}
	return call, nil
}

// Answer accepts the pending inbound invitation. Establishment is
// observed through the state listener, not through this call's return.
func (m *Manager) Answer(ctx context.Context) error {
	m.mu.Lock()
	call := m.current
	m.mu.Unlock()

	if call == nil || call.Direction() != DirectionInbound || call.State() != StateEstablishing {
		return ErrNoIncomingCall
	}
	return call.ts.Accept(ctx)
}

// Hangup ends the current call: cancel before answer, bye after. A no-op
// when no call is active. Teardown errors are logged, never returned -
// the caller already intends to leave the call.
func (m *Manager) Hangup(ctx context.Context) {
	m.mu.Lock()
	call := m.current
	m.mu.Unlock()

	if call == nil {
		return
	}
	m.teardown(ctx, call)

	m.mu.Lock()
	if m.current == call {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *Manager) teardown(ctx context.Context, call *Call) {
	var err error
	switch call.State() {
	case StateInitial, StateEstablishing:
		if call.Direction() == DirectionInbound {
			err = call.ts.Reject(ctx)
		} else {
			err = call.ts.Cancel(ctx)
		}
	case StateEstablished:
		err = call.ts.Bye(ctx)
	case StateTerminated:
		return
	}
	if err != nil {
		slog.Warn("[Session] Call teardown", "call_id", call.ID(), "state", call.State().String(), "error", err)
	}
}

// Disconnect stops the keep-alive, hangs up, unregisters and stops the
// transport, then clears all state unconditionally. It never fails and is
// safe to call from cleanup paths in any state, repeatedly.
func (m *Manager) Disconnect(ctx context.Context) {
	m.keepAlive.Stop()

	m.mu.Lock()
	t := m.transport
	registered := m.registered
	call := m.current
	m.mu.Unlock()

	if call != nil {
		m.teardown(ctx, call)
	}
	if t != nil && registered {
		if err := t.Unregister(ctx); err != nil {
			slog.Warn("[Session] Unregister", "error", err)
		}
	}
	if t != nil {
		if err := t.Stop(); err != nil {
			slog.Warn("[Session] Transport stop", "error", err)
		}
	}

	m.mu.Lock()
	m.transport = nil
	m.connected = false
	m.registered = false
	m.current = nil
	m.mu.Unlock()

	metrics.RegistrationActive.Set(0)
}

// IsInCall reports whether a live call occupies the session slot.
func (m *Manager) IsInCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.State().IsTerminal()
}

// Registered reports whether the registration is active. The click-to-call
// trigger checks this before dialing.
func (m *Manager) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}

// Status returns a snapshot for the UI layer.
func (m *Manager) Status() Status {
	m.mu.Lock()
	call := m.current
	st := Status{
		Connected:  m.connected,
		Registered: m.registered,
	}
	m.mu.Unlock()

	if call != nil && !call.State().IsTerminal() {
		st.InCall = true
		st.CallState = call.State().String()
		st.Direction = call.Direction().String()
		st.Number = call.Number()
		st.RemoteURI = call.RemoteURI()
		st.StartedAt = call.StartedAt()
		st.Duration = call.Duration()
	}
	return st
}

// --- Transport event handlers ---

func (m *Manager) onTransportConnected() {
	m.mu.Lock()
	m.connected = true
	registered := m.registered
	m.mu.Unlock()

	slog.Debug("[Session] Transport connected")
	if registered {
		m.keepAlive.Start()
	}
}

func (m *Manager) onTransportDisconnected() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	slog.Warn("[Session] Transport disconnected")
	m.keepAlive.Stop()
}

func (m *Manager) onRegistered() {
	m.mu.Lock()
	m.registered = true
	m.mu.Unlock()

	slog.Info("[Session] Registered")
	metrics.RegistrationsTotal.Inc()
	metrics.RegistrationActive.Set(1)
	m.keepAlive.Start()
	m.notifier.registered()
}

func (m *Manager) onUnregistered() {
	m.mu.Lock()
	m.registered = false
	m.mu.Unlock()

	slog.Info("[Session] Unregistered")
	metrics.RegistrationActive.Set(0)
	m.keepAlive.Stop()
	m.notifier.unregistered()
}

// onInvitation handles an inbound call delivered by the transport. When
// the session slot already holds a live call the invitation is rejected
// with 486 Busy Here; the slot is never silently overwritten.
func (m *Manager) onInvitation(ts TransportSession) {
	call := newCall(DirectionInbound, ts.RemoteNumber(), ts.RemoteURI(), ts)

	m.mu.Lock()
	if m.current != nil && !m.current.State().IsTerminal() {
		m.mu.Unlock()
		slog.Info("[Session] Rejecting overlapping invitation", "remote", ts.RemoteURI())
		metrics.CallsRejectedBusy.Inc()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ts.Reject(ctx); err != nil {
				slog.Warn("[Session] Busy reject", "error", err)
			}
		}()
		return
	}
	m.current = call
	m.mu.Unlock()

	m.watchSession(call, ts)
	metrics.CallsTotal.WithLabelValues(call.Direction().String()).Inc()

	if err := call.transitionTo(StateEstablishing); err != nil {
		slog.Error("[Session] Inbound call state", "error", err)
	}

	slog.Info("[Session] Call received", "remote", ts.RemoteURI())
	m.notifier.callReceived(ts.RemoteURI())
}

// watchSession wires a transport session's state events into the call
// state machine and the listener contract. The state machine guarantees
// at most one OnCallStarted and one OnCallEnded per call, in that order.
func (m *Manager) watchSession(call *Call, ts TransportSession) {
	ts.SetOnState(func(state CallState, reason EndReason) {
		switch state {
		case StateEstablishing:
			// Progress report (e.g. 180 Ringing); valid only from Initial.
			_ = call.transitionTo(StateEstablishing)

		case StateEstablished:
			if err := call.transitionTo(StateEstablished); err != nil {
				slog.Debug("[Session] Ignoring establish event", "call_id", call.ID(), "error", err)
				return
			}
			slog.Info("[Session] Call started", "call_id", call.ID(), "remote", call.RemoteURI())
			m.notifier.callStarted()

		case StateTerminated:
			call.setEndReason(reason)
			if err := call.transitionTo(StateTerminated); err != nil {
				return
			}
			m.mu.Lock()
			if m.current == call {
				m.current = nil
			}
			m.mu.Unlock()

			slog.Info("[Session] Call ended",
				"call_id", call.ID(),
				"reason", reason.String(),
				"duration", call.Duration().Round(time.Second).String(),
			)
			if d := call.Duration(); d > 0 {
				metrics.CallDuration.Observe(d.Seconds())
			}
			m.notifier.callEnded()
		}
	})
}

// probe is the keep-alive tick: a capability query addressed to our own
// identity. Failures are the caller's to count; they never stop the timer.
func (m *Manager) probe(ctx context.Context) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	metrics.KeepAliveTicks.Inc()
	return t.Options(ctx)
}
