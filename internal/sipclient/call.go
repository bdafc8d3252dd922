package sipclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/crmdesk/softphone/internal/media"
	"github.com/crmdesk/softphone/internal/session"
)

// call is one signaling dialog, inbound or outbound. It implements
// session.TransportSession and reports its lifecycle through the state
// listener; exactly one Terminated event is fired per call.
type call struct {
	client    *Client
	id        string
	dir       session.Direction
	number    string
	remote    sip.Uri
	remoteAOR string

	mu          sync.Mutex
	onState     func(session.CallState, session.EndReason)
	terminated  bool
	established bool
	fromTag     string

	invite   *sip.Request  // outbound: the sent INVITE; inbound: the received one
	inviteOK *sip.Response // 200 establishing the outbound dialog
	serverTx sip.ServerTransaction
	localTag string

	remoteSDP *media.RemoteEndpoint
	rtpPort   int
	media     *media.Session
}

func (s *call) ID() string           { return s.id }
func (s *call) RemoteURI() string    { return s.remoteAOR }
func (s *call) RemoteNumber() string { return s.number }

func (s *call) SetOnState(h func(session.CallState, session.EndReason)) {
	s.mu.Lock()
	s.onState = h
	s.mu.Unlock()
}

// Invite sends the INVITE and drives the exchange to its final answer.
// Provisional ringing surfaces as an Establishing event; any failure
// fires the Terminated event before the error returns.
func (s *call) Invite(ctx context.Context) error {
	port, err := s.client.ports.Allocate()
	if err != nil {
		s.fireTerminated(session.EndReasonError)
		return fmt.Errorf("allocate rtp port: %w", err)
	}
	s.mu.Lock()
	s.rtpPort = port
	s.mu.Unlock()

	offer, err := media.BuildOffer(s.client.opts.LocalAddr, port)
	if err != nil {
		s.fireTerminated(session.EndReasonError)
		return fmt.Errorf("build sdp offer: %w", err)
	}

	var authValue, authHeader string
	for attempt := 0; attempt < 3; attempt++ {
		req := s.buildInvite(offer)
		if authValue != "" {
			req.AppendHeader(sip.NewHeader(authHeader, authValue))
		}
		s.mu.Lock()
		s.invite = req
		s.mu.Unlock()

		tx, err := s.client.cli.TransactionRequest(ctx, req)
		if err != nil {
			s.fireTerminated(session.EndReasonError)
			return fmt.Errorf("send INVITE: %w", err)
		}

		resp, err := s.awaitAnswer(ctx, req, tx)
		if err != nil {
			reason := session.EndReasonCancel
			if errors.Is(err, context.DeadlineExceeded) {
				reason = session.EndReasonTimeout
			}
			s.fireTerminated(reason)
			return err
		}

		var challengeHeader string
		switch {
		case resp.StatusCode/100 == 2:
			return s.completeInvite(req, resp)
		case resp.StatusCode == sip.StatusUnauthorized:
			challengeHeader, authHeader = "WWW-Authenticate", "Authorization"
		case resp.StatusCode == sip.StatusProxyAuthRequired:
			challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
		default:
			s.fireTerminated(endReasonFromStatus(resp.StatusCode))
			return fmt.Errorf("call failed: %d %s", resp.StatusCode, resp.Reason)
		}

		authValue, err = s.client.answerChallenge(resp, challengeHeader, sip.INVITE.String(), req.Recipient.String())
		if err != nil {
			s.fireTerminated(session.EndReasonError)
			return err
		}
	}

	s.fireTerminated(session.EndReasonError)
	return fmt.Errorf("authentication retries exhausted")
}

// awaitAnswer waits for the final INVITE response. Context expiry sends
// a CANCEL so the server stops ringing the peer.
func (s *call) awaitAnswer(ctx context.Context, invite *sip.Request, tx sip.ClientTransaction) (*sip.Response, error) {
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.sendCancel(cancelCtx, invite); err != nil {
				slog.Warn("[SIPClient] CANCEL after context expiry", "call_id", s.id, "error", err)
			}
			cancel()
			return nil, ctx.Err()

		case <-tx.Done():
			return nil, fmt.Errorf("INVITE transaction terminated without response")

		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("INVITE transaction yielded no response")
			}
			if resp.StatusCode >= 200 {
				return resp, nil
			}
			if resp.StatusCode == sip.StatusRinging || resp.StatusCode == 183 {
				slog.Debug("[SIPClient] Ringing", "call_id", s.id, "status", int(resp.StatusCode))
				s.fireState(session.StateEstablishing, session.EndReasonNormal)
			}
		}
	}
}

// completeInvite finishes the 2xx path: ACK, remote media extraction and
// the Established event. ACK for a 2xx is a new request sent straight
// through the transport, outside the INVITE transaction.
func (s *call) completeInvite(req *sip.Request, resp *sip.Response) error {
	if err := s.client.cli.WriteRequest(sip.NewAckRequest(req, resp, nil)); err != nil {
		// The 200 stands; the server will retransmit it and we will see BYE
		// eventually if the dialog is really broken.
		slog.Warn("[SIPClient] ACK send", "call_id", s.id, "error", err)
	}

	remote, err := media.ParseRemote(resp.Body())
	if err != nil {
		slog.Warn("[SIPClient] Answer without usable SDP", "call_id", s.id, "error", err)
	}

	s.mu.Lock()
	s.invite, s.inviteOK = req, resp
	s.remoteSDP = remote
	s.established = true
	port := s.rtpPort
	s.mu.Unlock()

	if remote != nil {
		s.startMedia(port, remote)
	}

	slog.Info("[SIPClient] Call answered", "call_id", s.id, "remote", s.remoteAOR)
	s.fireState(session.StateEstablished, session.EndReasonNormal)
	return nil
}

// Accept answers a pending inbound invitation with 200 and our SDP
// answer. The call establishes when the remote ACK arrives.
func (s *call) Accept(_ context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return fmt.Errorf("call already terminated")
	}
	if s.dir != session.DirectionInbound || s.serverTx == nil {
		s.mu.Unlock()
		return fmt.Errorf("not an inbound call")
	}
	if s.rtpPort != 0 {
		s.mu.Unlock()
		return nil
	}
	remote := s.remoteSDP
	s.mu.Unlock()

	port, err := s.client.ports.Allocate()
	if err != nil {
		return fmt.Errorf("allocate rtp port: %w", err)
	}
	answer, err := media.BuildAnswer(s.client.opts.LocalAddr, port, remote.Codec)
	if err != nil {
		s.client.ports.Release(port)
		return fmt.Errorf("build sdp answer: %w", err)
	}

	s.mu.Lock()
	s.rtpPort = port
	s.mu.Unlock()

	s.respondWithTag(sip.StatusOK, "OK", answer)
	slog.Info("[SIPClient] Call accepted", "call_id", s.id, "remote", s.remoteAOR)
	return nil
}

// Reject declines a pending inbound invitation with 486 Busy Here.
func (s *call) Reject(_ context.Context) error {
	s.mu.Lock()
	if s.terminated || s.established || s.serverTx == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.respondWithTag(sip.StatusBusyHere, "Busy Here", nil)
	slog.Info("[SIPClient] Call rejected", "call_id", s.id, "remote", s.remoteAOR)
	s.fireTerminated(session.EndReasonRejected)
	return nil
}

// Cancel aborts a ringing outbound call. The Terminated event arrives
// through the 487 answer of the pending INVITE exchange.
func (s *call) Cancel(ctx context.Context) error {
	s.mu.Lock()
	invite := s.invite
	skip := s.established || s.terminated
	s.mu.Unlock()

	if invite == nil || skip {
		return nil
	}
	return s.sendCancel(ctx, invite)
}

// Bye ends an established call.
func (s *call) Bye(ctx context.Context) error {
	bye, err := s.buildBye()
	if err != nil {
		s.fireTerminated(session.EndReasonNormal)
		return err
	}

	resp, sendErr := s.client.transact(ctx, bye)
	s.fireTerminated(session.EndReasonNormal)
	if sendErr != nil {
		return fmt.Errorf("send BYE: %w", sendErr)
	}
	if resp.StatusCode != sip.StatusOK {
		slog.Debug("[SIPClient] BYE answered", "call_id", s.id, "status", int(resp.StatusCode))
	}
	return nil
}

// handleAck establishes an accepted inbound call.
func (s *call) handleAck() {
	s.mu.Lock()
	if s.dir != session.DirectionInbound || s.established || s.terminated || s.rtpPort == 0 {
		s.mu.Unlock()
		return
	}
	s.established = true
	port, remote := s.rtpPort, s.remoteSDP
	s.mu.Unlock()

	s.startMedia(port, remote)
	slog.Info("[SIPClient] Call established", "call_id", s.id, "remote", s.remoteAOR)
	s.fireState(session.StateEstablished, session.EndReasonNormal)
}

// handleRemoteCancel answers a CANCEL of a still-ringing inbound INVITE
// with 487 Request Terminated.
func (s *call) handleRemoteCancel() {
	s.mu.Lock()
	tx, req := s.serverTx, s.invite
	skip := s.established || s.terminated
	s.mu.Unlock()

	if tx == nil || skip {
		return
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusRequestTerminated, "Request Terminated", nil)); err != nil {
		slog.Warn("[SIPClient] 487 respond", "call_id", s.id, "error", err)
	}
	s.fireTerminated(session.EndReasonCancel)
}

// --- Request construction ---

func (s *call) buildInvite(offer []byte) *sip.Request {
	c := s.client
	if s.fromTag == "" {
		s.fromTag = newTag()
	}

	req := sip.NewRequest(sip.INVITE, s.remote)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", s.fromTag)
	req.AppendHeader(&sip.FromHeader{Address: c.identityURI(), Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: s.remote, Params: sip.NewParams()})

	callID := sip.CallIDHeader(s.id)
	req.AppendHeader(&callID)
	c.nextCSeq(req)

	req.AppendHeader(&sip.ContactHeader{Address: c.identityURI()})
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody(offer)

	req.SetDestination(c.serverAddr())
	return req
}

// sendCancel builds the CANCEL from the pending INVITE per RFC 3261 9.1:
// same Via, From, To, Call-ID and CSeq number, CANCEL method.
func (s *call) sendCancel(ctx context.Context, invite *sip.Request) error {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)
	cancelReq.SetDestination(s.client.serverAddr())

	resp, err := s.client.transact(ctx, cancelReq)
	if err != nil {
		return fmt.Errorf("send CANCEL: %w", err)
	}
	slog.Debug("[SIPClient] CANCEL answered", "call_id", s.id, "status", int(resp.StatusCode))
	return nil
}

// buildBye constructs the in-dialog BYE. For outbound calls the dialog
// state comes from the sent INVITE and its 200; for inbound calls the
// roles flip around the received INVITE.
func (s *call) buildBye() (*sip.Request, error) {
	s.mu.Lock()
	invite, ok200 := s.invite, s.inviteOK
	dir, localTag := s.dir, s.localTag
	s.mu.Unlock()

	if invite == nil {
		return nil, fmt.Errorf("no dialog to end")
	}
	c := s.client

	if dir == session.DirectionOutbound {
		if ok200 == nil {
			return nil, fmt.Errorf("call not established")
		}
		// Request-URI from the 200's Contact per RFC 3261 15.1.1.
		target := invite.Recipient
		if contact := ok200.Contact(); contact != nil {
			target = contact.Address
		}
		bye := sip.NewRequest(sip.BYE, target)

		maxFwd := sip.MaxForwardsHeader(70)
		bye.AppendHeader(&maxFwd)
		sip.CopyHeaders("From", invite, bye)
		if to := ok200.To(); to != nil {
			bye.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
		}
		sip.CopyHeaders("Call-ID", invite, bye)
		c.nextCSeq(bye)
		bye.SetDestination(c.serverAddr())
		return bye, nil
	}

	var target sip.Uri
	if contact := invite.Contact(); contact != nil {
		target = contact.Address
	} else if from := invite.From(); from != nil {
		target = from.Address
	}
	bye := sip.NewRequest(sip.BYE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	bye.AppendHeader(&sip.FromHeader{Address: c.identityURI(), Params: fromParams})
	if from := invite.From(); from != nil {
		bye.AppendHeader(&sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params})
	}
	sip.CopyHeaders("Call-ID", invite, bye)
	c.nextCSeq(bye)
	bye.SetDestination(c.serverAddr())
	return bye, nil
}

// respondWithTag answers the stored inbound INVITE, stamping our dialog
// tag into To. A body implies an SDP answer, so Contact and Content-Type
// ride along.
func (s *call) respondWithTag(code sip.StatusCode, reason string, body []byte) {
	s.mu.Lock()
	tx, req := s.serverTx, s.invite
	s.mu.Unlock()
	if tx == nil {
		return
	}

	resp := sip.NewResponseFromRequest(req, code, reason, body)
	if to := resp.To(); to != nil {
		params := sip.NewParams()
		params.Add("tag", s.localTag)
		to.Params = params
	}
	if body != nil {
		resp.AppendHeader(&sip.ContactHeader{Address: s.client.identityURI()})
		ct := sip.ContentTypeHeader("application/sdp")
		resp.AppendHeader(&ct)
	}
	if err := tx.Respond(resp); err != nil {
		slog.Warn("[SIPClient] INVITE respond", "call_id", s.id, "status", int(code), "error", err)
	}
}

// --- Media and lifecycle ---

func (s *call) startMedia(port int, remote *media.RemoteEndpoint) {
	ms, err := media.NewSession(s.client.opts.LocalAddr, port, remote, media.NewSilenceSource(remote.Codec))
	if err != nil {
		slog.Warn("[SIPClient] Media session", "call_id", s.id, "error", err)
		return
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		ms.Close()
		return
	}
	s.media = ms
	s.mu.Unlock()
	ms.Start()
}

func (s *call) fireState(state session.CallState, reason session.EndReason) {
	s.mu.Lock()
	h := s.onState
	s.mu.Unlock()
	if h != nil {
		h(state, reason)
	}
}

// fireTerminated releases the call's resources and fires the single
// Terminated event. Subsequent calls are no-ops.
func (s *call) fireTerminated(reason session.EndReason) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	ms := s.media
	s.media = nil
	port := s.rtpPort
	s.rtpPort = 0
	h := s.onState
	s.mu.Unlock()

	if ms != nil {
		ms.Close()
	}
	if port != 0 {
		s.client.ports.Release(port)
	}
	s.client.untrack(s.id)

	if h != nil {
		h(session.StateTerminated, reason)
	}
}

// shutdown releases resources without firing events; used when the
// whole client goes down and the manager has already dropped the call.
func (s *call) shutdown() {
	s.mu.Lock()
	s.terminated = true
	ms := s.media
	s.media = nil
	port := s.rtpPort
	s.rtpPort = 0
	s.mu.Unlock()

	if ms != nil {
		ms.Close()
	}
	if port != 0 {
		s.client.ports.Release(port)
	}
}

// answerChallenge computes the digest response for a 401/407 challenge.
func (c *Client) answerChallenge(resp *sip.Response, challengeHeader, method, uri string) (string, error) {
	if c.cfg.Password == "" {
		return "", fmt.Errorf("server requires authentication but no password is configured")
	}
	hdr := resp.GetHeader(challengeHeader)
	if hdr == nil {
		return "", fmt.Errorf("authentication required but response carries no challenge")
	}
	challenge, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return "", fmt.Errorf("parse auth challenge: %w", err)
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   method,
		URI:      uri,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}
	return cred.String(), nil
}

// endReasonFromStatus maps a final INVITE failure to the session-level
// end reason.
func endReasonFromStatus(code sip.StatusCode) session.EndReason {
	switch {
	case code == sip.StatusBusyHere || code == 600:
		return session.EndReasonBusy
	case code == sip.StatusRequestTerminated:
		return session.EndReasonCancel
	case code == sip.StatusRequestTimeout || code == 480:
		return session.EndReasonTimeout
	default:
		return session.EndReasonRejected
	}
}
