package sipclient

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// serverAddr is the signaling destination, host:port of the PBX
// WebSocket listener.
func (c *Client) serverAddr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.WSPort)
}

// domainURI addresses the registrar itself: sip:<domain>;transport=ws.
func (c *Client) domainURI() sip.Uri {
	u := sip.Uri{
		Scheme: "sip",
		Host:   c.cfg.Domain,
	}
	u.UriParams = sip.NewParams()
	u.UriParams.Add("transport", "ws")
	return u
}

// identityURI is our own address of record with the WebSocket transport
// parameter, used as From, To and keep-alive target.
func (c *Client) identityURI() sip.Uri {
	u := c.domainURI()
	u.User = c.cfg.Username
	return u
}

// addressOf builds the request URI for a dialed number.
func (c *Client) addressOf(number string) sip.Uri {
	u := c.domainURI()
	u.User = number
	return u
}

// aor renders the plain address of record without URI parameters, the
// form surfaced to listeners and logs.
func aor(user, host string) string {
	return fmt.Sprintf("sip:%s@%s", user, host)
}

// newTag generates a From/To tag.
func newTag() string {
	return uuid.NewString()[:8]
}

// newCallID generates a Call-ID.
func newCallID() string {
	return uuid.NewString()
}
