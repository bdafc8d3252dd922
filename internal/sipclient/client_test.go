package sipclient

import (
	"strings"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/crmdesk/softphone/internal/session"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := session.Config{
		Server:         "pbx.example.com",
		Username:       "1001",
		Password:       "secret",
		Domain:         "pbx.example.com",
		WSPort:         8088,
		WSPath:         "/ws",
		RegisterExpiry: 600 * time.Second,
	}
	c, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRequiresServerAndUsername(t *testing.T) {
	if _, err := New(session.Config{Username: "1001"}, Options{}); err == nil {
		t.Error("expected error without server")
	}
	if _, err := New(session.Config{Server: "pbx"}, Options{}); err == nil {
		t.Error("expected error without username")
	}
}

func TestURIHelpers(t *testing.T) {
	c := testClient(t)

	if got := c.serverAddr(); got != "pbx.example.com:8088" {
		t.Errorf("serverAddr = %s", got)
	}

	id := c.identityURI()
	if id.User != "1001" || id.Host != "pbx.example.com" {
		t.Errorf("identity = %s", id.String())
	}
	if tp, _ := id.UriParams.Get("transport"); tp != "ws" {
		t.Errorf("identity transport param = %q, want ws", tp)
	}

	target := c.addressOf("5551234")
	if target.User != "5551234" {
		t.Errorf("addressOf user = %s", target.User)
	}

	if got := aor("1001", "pbx.example.com"); got != "sip:1001@pbx.example.com" {
		t.Errorf("aor = %s", got)
	}
}

func TestNewTagAndCallID(t *testing.T) {
	if a, b := newTag(), newTag(); a == b {
		t.Error("tags must be unique")
	}
	if len(newTag()) != 8 {
		t.Errorf("tag length = %d, want 8", len(newTag()))
	}
	if a, b := newCallID(), newCallID(); a == b {
		t.Error("call ids must be unique")
	}
}

func TestBuildRegister(t *testing.T) {
	c := testClient(t)

	req := c.buildRegister(600)
	if req.Method != sip.REGISTER {
		t.Fatalf("method = %s", req.Method)
	}
	if req.Recipient.User != "" || req.Recipient.Host != "pbx.example.com" {
		t.Errorf("request uri = %s, registrar must be addressed without a user part", req.Recipient.String())
	}
	if req.Destination() != "pbx.example.com:8088" {
		t.Errorf("destination = %s", req.Destination())
	}
	if hdr := req.GetHeader("Expires"); hdr == nil || hdr.Value() != "600" {
		t.Errorf("expires header = %v", hdr)
	}
	from := req.From()
	if from == nil {
		t.Fatal("missing From")
	}
	if tag, _ := from.Params.Get("tag"); tag == "" {
		t.Error("From must carry a tag")
	}

	// The registration keeps one Call-ID for its whole lifetime.
	second := c.buildRegister(0)
	if req.CallID().Value() != second.CallID().Value() {
		t.Error("register Call-ID must be stable across refreshes")
	}
	if hdr := second.GetHeader("Expires"); hdr == nil || hdr.Value() != "0" {
		t.Errorf("unregister expires = %v", hdr)
	}

	// CSeq advances per request.
	if req.CSeq().SeqNo >= second.CSeq().SeqNo {
		t.Errorf("cseq must advance: %d then %d", req.CSeq().SeqNo, second.CSeq().SeqNo)
	}
}

func TestBuildOptionsTargetsOwnIdentity(t *testing.T) {
	c := testClient(t)

	req := c.buildOptions()
	if req.Method != sip.OPTIONS {
		t.Fatalf("method = %s", req.Method)
	}
	if req.Recipient.User != "1001" {
		t.Errorf("options target = %s, want own identity", req.Recipient.String())
	}

	// Keep-alive probes are independent transactions.
	if req.CallID().Value() == c.buildOptions().CallID().Value() {
		t.Error("options Call-ID must be fresh per probe")
	}
}

func TestGrantedExpiry(t *testing.T) {
	c := testClient(t)
	req := c.buildRegister(600)

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if got := grantedExpiry(resp, 600*time.Second); got != 600*time.Second {
		t.Errorf("fallback expiry = %s, want 600s", got)
	}

	granted := sip.ExpiresHeader(120)
	resp.AppendHeader(&granted)
	if got := grantedExpiry(resp, 600*time.Second); got != 120*time.Second {
		t.Errorf("granted expiry = %s, want 120s", got)
	}
}

func TestEndReasonFromStatus(t *testing.T) {
	tests := []struct {
		code sip.StatusCode
		want session.EndReason
	}{
		{sip.StatusBusyHere, session.EndReasonBusy},
		{600, session.EndReasonBusy},
		{sip.StatusRequestTerminated, session.EndReasonCancel},
		{sip.StatusRequestTimeout, session.EndReasonTimeout},
		{480, session.EndReasonTimeout},
		{sip.StatusNotFound, session.EndReasonRejected},
		{603, session.EndReasonRejected},
	}
	for _, tt := range tests {
		if got := endReasonFromStatus(tt.code); got != tt.want {
			t.Errorf("endReasonFromStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.RTPPortMin != 10000 || opts.RTPPortMax != 20000 {
		t.Errorf("default rtp range = %d-%d", opts.RTPPortMin, opts.RTPPortMax)
	}

	custom := Options{RTPPortMin: 40000, RTPPortMax: 40100}.withDefaults()
	if custom.RTPPortMin != 40000 || custom.RTPPortMax != 40100 {
		t.Errorf("explicit range overridden: %d-%d", custom.RTPPortMin, custom.RTPPortMax)
	}
}

func TestBuildInviteOutbound(t *testing.T) {
	c := testClient(t)
	s := &call{
		client:    c,
		id:        newCallID(),
		dir:       session.DirectionOutbound,
		number:    "5551234",
		remote:    c.addressOf("5551234"),
		remoteAOR: aor("5551234", c.cfg.Domain),
	}

	sdp := []byte("v=0\r\n")
	req := s.buildInvite(sdp)
	if req.Method != sip.INVITE {
		t.Fatalf("method = %s", req.Method)
	}
	if req.Recipient.User != "5551234" {
		t.Errorf("request uri user = %s", req.Recipient.User)
	}
	if req.CallID().Value() != s.id {
		t.Errorf("call id = %s, want %s", req.CallID().Value(), s.id)
	}
	if ct := req.GetHeader("Content-Type"); ct == nil || !strings.Contains(ct.Value(), "application/sdp") {
		t.Errorf("content type = %v", ct)
	}
	if string(req.Body()) != string(sdp) {
		t.Error("body not carried")
	}
	from := req.From()
	if tag, _ := from.Params.Get("tag"); tag != s.fromTag {
		t.Errorf("from tag = %q, want %q", tag, s.fromTag)
	}
	if to := req.To(); to == nil || to.Address.User != "5551234" {
		t.Errorf("to header = %v", to)
	}
}
