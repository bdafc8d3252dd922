// Package sipclient implements the signaling transport on sipgo: a SIP
// user agent that registers over WebSocket against the PBX, places and
// receives calls, and answers keep-alive probes. It reports everything
// upward through the session.TransportHandler contract and knows nothing
// about the session manager's state machine.
package sipclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/crmdesk/softphone/internal/media"
	"github.com/crmdesk/softphone/internal/session"
)

// Options carries the media-side knobs that are process configuration
// rather than per-registration identity.
type Options struct {
	// LocalAddr is the address advertised in SDP. Auto-detected from the
	// route toward the PBX when empty.
	LocalAddr  string
	RTPPortMin int
	RTPPortMax int
}

func (o Options) withDefaults() Options {
	if o.RTPPortMin == 0 {
		o.RTPPortMin = 10000
	}
	if o.RTPPortMax == 0 {
		o.RTPPortMax = 20000
	}
	return o
}

// Factory adapts the sipgo client into the transport factory the session
// manager consumes.
func Factory(opts Options) session.TransportFactory {
	return func(cfg session.Config) (session.Transport, error) {
		return New(cfg, opts)
	}
}

// Client is the sipgo-backed signaling transport. One Client serves one
// registration; the session manager builds a fresh one per Connect.
type Client struct {
	cfg  session.Config
	opts Options

	ua  *sipgo.UserAgent
	srv *sipgo.Server
	cli *sipgo.Client

	handler session.TransportHandler
	ports   *media.PortPool
	cseq    atomic.Uint32

	mu       sync.Mutex
	started  bool
	sessions map[string]*call

	regCallID string
	regStop   chan struct{}
}

// New builds an unstarted client for one registration.
func New(cfg session.Config, opts Options) (*Client, error) {
	if cfg.Server == "" || cfg.Username == "" {
		return nil, fmt.Errorf("sip client requires server and username")
	}
	opts = opts.withDefaults()
	return &Client{
		cfg:       cfg,
		opts:      opts,
		ports:     media.NewPortPool(opts.RTPPortMin, opts.RTPPortMax),
		sessions:  make(map[string]*call),
		regCallID: newCallID(),
	}, nil
}

// SetHandler implements session.Transport. Must be called before Start.
func (c *Client) SetHandler(h session.TransportHandler) {
	c.handler = h
}

// Start probes reachability of the PBX WebSocket listener, then brings
// up the sipgo user agent and its request handlers. The WebSocket
// connection itself is established by the first outgoing request and
// reused for everything after, inbound INVITEs included.
func (c *Client) Start(ctx context.Context) error {
	addr := c.serverAddr()

	var d net.Dialer
	probe, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("reach %s: %w", addr, err)
	}
	probe.Close()

	if c.opts.LocalAddr == "" {
		c.opts.LocalAddr = localAddrFor(addr)
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(c.cfg.Username))
	if err != nil {
		return fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("create uas: %w", err)
	}
	cli, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("create uac: %w", err)
	}

	srv.OnRequest(sip.INVITE, c.onInvite)
	srv.OnRequest(sip.ACK, c.onAck)
	srv.OnRequest(sip.BYE, c.onBye)
	srv.OnRequest(sip.CANCEL, c.onCancel)
	srv.OnRequest(sip.OPTIONS, c.onOptions)

	c.mu.Lock()
	c.ua, c.srv, c.cli = ua, srv, cli
	c.started = true
	c.mu.Unlock()

	slog.Info("[SIPClient] Started", "server", addr, "identity", aor(c.cfg.Username, c.cfg.Domain), "local_addr", c.opts.LocalAddr)
	if h := c.handler.OnConnected; h != nil {
		h()
	}
	return nil
}

// Stop tears down the user agent and every live session. Safe to call
// after a failed Start and safe to call twice.
func (c *Client) Stop() error {
	c.stopRefresh()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	ua := c.ua
	sessions := make([]*call, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*call)
	c.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}

	var err error
	if ua != nil {
		err = ua.Close()
	}

	slog.Info("[SIPClient] Stopped")
	if h := c.handler.OnDisconnected; h != nil {
		h()
	}
	return err
}

// NewCall prepares an outbound session toward sip:<number>@<domain>.
// Nothing is sent until Invite.
func (c *Client) NewCall(number string) (session.TransportSession, error) {
	if number == "" {
		return nil, fmt.Errorf("empty number")
	}
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("client not started")
	}

	s := &call{
		client:    c,
		id:        newCallID(),
		dir:       session.DirectionOutbound,
		number:    number,
		remote:    c.addressOf(number),
		remoteAOR: aor(number, c.cfg.Domain),
	}
	c.track(s)
	return s, nil
}

// --- Inbound request handlers ---

func (c *Client) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if c.lookup(callID) != nil {
		// Retransmission of an INVITE we are already handling.
		return
	}

	remote, err := media.ParseRemote(req.Body())
	if err != nil {
		slog.Warn("[SIPClient] Inbound INVITE with unusable SDP", "call_id", callID, "error", err)
		respond(tx, req, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	number, host := "", c.cfg.Domain
	if from := req.From(); from != nil {
		number = from.Address.User
		if from.Address.Host != "" {
			host = from.Address.Host
		}
	}

	s := &call{
		client:    c,
		id:        callID,
		dir:       session.DirectionInbound,
		number:    number,
		remoteAOR: aor(number, host),
		invite:    req,
		serverTx:  tx,
		localTag:  newTag(),
		remoteSDP: remote,
	}

	respond(tx, req, sip.StatusTrying, "Trying")
	s.respondWithTag(sip.StatusRinging, "Ringing", nil)

	c.track(s)
	slog.Info("[SIPClient] Incoming call", "call_id", callID, "from", s.remoteAOR)
	if h := c.handler.OnInvitation; h != nil {
		h(s)
	}
}

func (c *Client) onAck(req *sip.Request, _ sip.ServerTransaction) {
	if s := c.lookup(req.CallID().Value()); s != nil {
		s.handleAck()
	}
}

func (c *Client) onBye(req *sip.Request, tx sip.ServerTransaction) {
	respond(tx, req, sip.StatusOK, "OK")
	if s := c.lookup(req.CallID().Value()); s != nil {
		slog.Info("[SIPClient] BYE received", "call_id", s.id)
		s.fireTerminated(session.EndReasonNormal)
	}
}

func (c *Client) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	respond(tx, req, sip.StatusOK, "OK")
	if s := c.lookup(req.CallID().Value()); s != nil {
		slog.Info("[SIPClient] Call canceled by remote", "call_id", s.id)
		s.handleRemoteCancel()
	}
}

func (c *Client) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	respond(tx, req, sip.StatusOK, "OK")
}

func respond(tx sip.ServerTransaction, req *sip.Request, code sip.StatusCode, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		slog.Warn("[SIPClient] Respond", "method", req.Method.String(), "status", int(code), "error", err)
	}
}

// --- Session tracking ---

func (c *Client) track(s *call) {
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
}

func (c *Client) untrack(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

func (c *Client) lookup(id string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// --- Request plumbing ---

// nextCSeq appends a fresh CSeq header. The counter is shared across all
// requests of this client, which keeps every dialogless exchange
// monotonic.
func (c *Client) nextCSeq(req *sip.Request) {
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      c.cseq.Add(1),
		MethodName: req.Method,
	})
}

// transact sends req and waits for its final response.
func (c *Client) transact(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := c.cli.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method.String(), err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tx.Done():
			return nil, fmt.Errorf("%s transaction terminated without response", req.Method.String())
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("%s transaction yielded no response", req.Method.String())
			}
			if resp.StatusCode >= 200 {
				return resp, nil
			}
		}
	}
}

// doAuth runs a request exchange with digest authentication retries.
// build must return a fresh request per attempt; challenges from 401 and
// 407 are answered with credentials from the configuration.
func (c *Client) doAuth(ctx context.Context, build func() *sip.Request) (*sip.Response, error) {
	var authValue, authHeader string
	for attempt := 0; attempt < 3; attempt++ {
		req := build()
		if authValue != "" {
			req.AppendHeader(sip.NewHeader(authHeader, authValue))
		}

		resp, err := c.transact(ctx, req)
		if err != nil {
			return nil, err
		}

		var challengeHeader string
		switch resp.StatusCode {
		case sip.StatusUnauthorized:
			challengeHeader, authHeader = "WWW-Authenticate", "Authorization"
		case sip.StatusProxyAuthRequired:
			challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
		default:
			return resp, nil
		}

		authValue, err = c.answerChallenge(resp, challengeHeader, req.Method.String(), req.Recipient.String())
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("authentication retries exhausted")
}

// localAddrFor returns the local interface address used to reach addr.
func localAddrFor(addr string) string {
	conn, err := net.DialTimeout("udp", addr, time.Second)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return local.IP.String()
	}
	return "127.0.0.1"
}
