package sipclient

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
)

// Register binds the configured identity on the registrar and starts the
// background refresh loop. The refresh fires at 80% of the granted
// expiry, so a short server-side Expires shortens our cycle too.
func (c *Client) Register(ctx context.Context) error {
	expiry := int(c.cfg.RegisterExpiry.Seconds())

	resp, err := c.doAuth(ctx, func() *sip.Request {
		return c.buildRegister(expiry)
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != sip.StatusOK {
		return fmt.Errorf("registration rejected: %d %s", resp.StatusCode, resp.Reason)
	}

	granted := grantedExpiry(resp, c.cfg.RegisterExpiry)
	slog.Info("[SIPClient] Registered", "identity", aor(c.cfg.Username, c.cfg.Domain), "expires", granted.String())

	c.startRefresh(granted)
	if h := c.handler.OnRegistered; h != nil {
		h()
	}
	return nil
}

// Unregister removes the binding with Expires: 0 and stops the refresh
// loop. A rejection is returned but the local state is already down.
func (c *Client) Unregister(ctx context.Context) error {
	c.stopRefresh()
	defer func() {
		if h := c.handler.OnUnregistered; h != nil {
			h()
		}
	}()

	resp, err := c.doAuth(ctx, func() *sip.Request {
		return c.buildRegister(0)
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != sip.StatusOK {
		return fmt.Errorf("unregister rejected: %d %s", resp.StatusCode, resp.Reason)
	}
	slog.Info("[SIPClient] Unregistered", "identity", aor(c.cfg.Username, c.cfg.Domain))
	return nil
}

// Options sends the keep-alive probe, an OPTIONS request addressed to
// our own identity. Any 2xx or 404 proves the signaling path is alive;
// some registrars answer OPTIONS for an AOR with 404 while still
// refreshing the connection state.
func (c *Client) Options(ctx context.Context) error {
	resp, err := c.doAuth(ctx, c.buildOptions)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 == 2 || resp.StatusCode == sip.StatusNotFound {
		return nil
	}
	return fmt.Errorf("options probe failed: %d %s", resp.StatusCode, resp.Reason)
}

func (c *Client) buildRegister(expires int) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, c.domainURI())

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	identity := c.identityURI()
	fromParams := sip.NewParams()
	fromParams.Add("tag", newTag())
	req.AppendHeader(&sip.FromHeader{Address: identity, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: identity, Params: sip.NewParams()})

	// One Call-ID for the whole registration lifetime, per RFC 3261 10.2.
	callID := sip.CallIDHeader(c.regCallID)
	req.AppendHeader(&callID)
	c.nextCSeq(req)

	req.AppendHeader(&sip.ContactHeader{Address: identity})
	expiresHdr := sip.ExpiresHeader(expires)
	req.AppendHeader(&expiresHdr)

	req.SetDestination(c.serverAddr())
	return req
}

func (c *Client) buildOptions() *sip.Request {
	req := sip.NewRequest(sip.OPTIONS, c.identityURI())

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	identity := c.identityURI()
	fromParams := sip.NewParams()
	fromParams.Add("tag", newTag())
	req.AppendHeader(&sip.FromHeader{Address: identity, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: identity, Params: sip.NewParams()})

	callID := sip.CallIDHeader(newCallID())
	req.AppendHeader(&callID)
	c.nextCSeq(req)

	req.SetDestination(c.serverAddr())
	return req
}

// grantedExpiry reads the expiry the registrar actually granted,
// preferring the Expires header and falling back to our request value.
func grantedExpiry(resp *sip.Response, fallback time.Duration) time.Duration {
	if hdr := resp.GetHeader("Expires"); hdr != nil {
		if secs, err := strconv.Atoi(hdr.Value()); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// startRefresh launches the re-REGISTER loop. A prior loop is stopped
// first, so re-registering through a new Register call is safe.
func (c *Client) startRefresh(expiry time.Duration) {
	c.stopRefresh()

	stop := make(chan struct{})
	c.mu.Lock()
	c.regStop = stop
	c.mu.Unlock()

	go c.refreshLoop(stop, expiry)
}

func (c *Client) stopRefresh() {
	c.mu.Lock()
	stop := c.regStop
	c.regStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Client) refreshLoop(stop chan struct{}, expiry time.Duration) {
	for {
		interval := expiry * 4 / 5
		if interval < time.Second {
			interval = time.Second
		}

		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		granted, err := c.refresh(stop)
		if err != nil {
			slog.Warn("[SIPClient] Registration lost", "error", err)
			if h := c.handler.OnUnregistered; h != nil {
				h()
			}
			return
		}
		expiry = granted
		slog.Debug("[SIPClient] Registration refreshed", "expires", granted.String())
	}
}

// refresh re-sends the REGISTER, retrying transient failures with the
// configured reconnect policy before declaring the registration lost.
func (c *Client) refresh(stop chan struct{}) (time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-stop:
				return 0, fmt.Errorf("refresh aborted")
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		resp, err := c.doAuth(ctx, func() *sip.Request {
			return c.buildRegister(int(c.cfg.RegisterExpiry.Seconds()))
		})
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != sip.StatusOK {
			lastErr = fmt.Errorf("refresh rejected: %d %s", resp.StatusCode, resp.Reason)
			continue
		}
		return grantedExpiry(resp, c.cfg.RegisterExpiry), nil
	}
	return 0, lastErr
}
