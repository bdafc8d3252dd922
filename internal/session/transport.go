package session

import (
	"context"
	"time"
)

// Config carries the identity and transport parameters for one
// registration. It is immutable once passed to Connect; a later Connect
// call fully replaces it. The manager does not validate credentials -
// callers must ensure username and password are present.
type Config struct {
	Server   string
	Username string
	Password string
	Domain   string // defaults to Server

	WSPort            int
	WSPath            string
	ConnectTimeout    time.Duration
	WSKeepAlive       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	NoAnswerTimeout   time.Duration
	KeepAliveInterval time.Duration
	RegisterExpiry    time.Duration
}

// withDefaults fills zero-valued timing fields.
func (c Config) withDefaults() Config {
	if c.Domain == "" {
		c.Domain = c.Server
	}
	if c.WSPort == 0 {
		c.WSPort = 8088
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WSKeepAlive == 0 {
		c.WSKeepAlive = 20 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 3
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 4 * time.Second
	}
	if c.NoAnswerTimeout == 0 {
		c.NoAnswerTimeout = 60 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 25 * time.Second
	}
	if c.RegisterExpiry == 0 {
		c.RegisterExpiry = 10 * time.Minute
	}
	return c
}

// TransportHandler receives transport-level events. The manager installs
// exactly one handler before starting the transport.
type TransportHandler struct {
	// OnConnected fires when the signaling connection is up.
	OnConnected func()
	// OnDisconnected fires when the signaling connection is lost.
	OnDisconnected func()
	// OnRegistered fires when the registration becomes active.
	OnRegistered func()
	// OnUnregistered fires when the registration is lost or removed.
	OnUnregistered func()
	// OnInvitation delivers an inbound call in Establishing state.
	OnInvitation func(TransportSession)
}

// Transport is the signaling client the session manager orchestrates.
// Implemented on sipgo by the sipclient package; replaced by a fake in
// tests. The manager owns exactly one transport at a time.
type Transport interface {
	// Start brings up the user agent and its signaling connection.
	Start(ctx context.Context) error
	// Stop tears down the user agent. Safe to call after a failed Start.
	Stop() error

	// Register binds the configured identity on the server.
	Register(ctx context.Context) error
	// Unregister removes the binding.
	Unregister(ctx context.Context) error

	// Options sends a capability-query request to our own identity.
	// Used as the registration keep-alive probe.
	Options(ctx context.Context) error

	// NewCall builds an outbound session targeting sip:<number>@<domain>.
	// The INVITE is not sent until TransportSession.Invite is called.
	NewCall(number string) (TransportSession, error)

	// SetHandler installs the event handler. Must be called before Start.
	SetHandler(TransportHandler)
}

// TransportSession is one signaling dialog, inbound or outbound. State
// change events drive the manager's call state machine; the manager never
// polls the transport.
type TransportSession interface {
	// ID returns the signaling identifier (Call-ID) of the session.
	ID() string
	// RemoteURI returns the remote party address, e.g. sip:100@pbx.local.
	RemoteURI() string
	// RemoteNumber returns the user part of the remote address.
	RemoteNumber() string

	// SetOnState installs the state listener. Fired with Establishing,
	// Established and finally exactly one Terminated.
	SetOnState(func(state CallState, reason EndReason))

	// Invite sends the INVITE and waits for the final answer (outbound only).
	Invite(ctx context.Context) error
	// Accept answers a pending inbound invitation.
	Accept(ctx context.Context) error
	// Reject declines a pending inbound invitation with 486 Busy Here.
	Reject(ctx context.Context) error
	// Cancel aborts a not-yet-answered outbound call.
	Cancel(ctx context.Context) error
	// Bye ends an established call.
	Bye(ctx context.Context) error
}

// TransportFactory builds a transport for one Connect attempt.
// Injecting the factory keeps the manager free of sipgo imports and makes
// the core testable against a fake.
type TransportFactory func(cfg Config) (Transport, error)
