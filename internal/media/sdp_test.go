package media

import (
	"strings"
	"testing"
)

func TestBuildOfferListsBothCodecs(t *testing.T) {
	body, err := BuildOffer("192.168.1.10", 10000)
	if err != nil {
		t.Fatalf("build offer: %v", err)
	}
	s := string(body)

	for _, want := range []string{
		"m=audio 10000 RTP/AVP 0 8",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:8 PCMA/8000",
		"a=ptime:20",
		"a=sendrecv",
		"c=IN IP4 192.168.1.10",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("offer missing %q:\n%s", want, s)
		}
	}
}

func TestBuildAnswerLocksCodec(t *testing.T) {
	body, err := BuildAnswer("192.168.1.10", 10002, CodecPCMA)
	if err != nil {
		t.Fatalf("build answer: %v", err)
	}
	s := string(body)

	if !strings.Contains(s, "m=audio 10002 RTP/AVP 8") {
		t.Errorf("answer not locked to PCMA:\n%s", s)
	}
	if strings.Contains(s, "a=rtpmap:0 ") {
		t.Errorf("answer must not advertise PCMU:\n%s", s)
	}
}

func TestParseRemoteFromOwnOffer(t *testing.T) {
	body, err := BuildOffer("10.0.0.5", 12000)
	if err != nil {
		t.Fatalf("build offer: %v", err)
	}

	remote, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if remote.Addr != "10.0.0.5" {
		t.Errorf("addr = %s, want 10.0.0.5", remote.Addr)
	}
	if remote.Port != 12000 {
		t.Errorf("port = %d, want 12000", remote.Port)
	}
	if remote.Codec.PayloadType != CodecPCMU.PayloadType {
		t.Errorf("codec = %s, want first offered PCMU", remote.Codec.Name)
	}
}

func TestParseRemotePrefersFirstSupportedFormat(t *testing.T) {
	// Peer prefers A-law and also offers telephone-event, which we skip.
	body := []byte("v=0\r\n" +
		"o=pbx 123 1 IN IP4 203.0.113.7\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.7\r\n" +
		"t=0 0\r\n" +
		"m=audio 41000 RTP/AVP 101 8 0\r\n" +
		"a=rtpmap:101 telephone-event/8000\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n")

	remote, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if remote.Codec.PayloadType != CodecPCMA.PayloadType {
		t.Errorf("codec = %s, want PCMA", remote.Codec.Name)
	}
	if remote.Addr != "203.0.113.7" || remote.Port != 41000 {
		t.Errorf("endpoint = %s:%d", remote.Addr, remote.Port)
	}
}

func TestParseRemoteMediaLevelConnection(t *testing.T) {
	// Media-level c= overrides the session-level address.
	body := []byte("v=0\r\n" +
		"o=pbx 123 1 IN IP4 203.0.113.7\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.7\r\n" +
		"t=0 0\r\n" +
		"m=audio 41000 RTP/AVP 0\r\n" +
		"c=IN IP4 198.51.100.2\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n")

	remote, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if remote.Addr != "198.51.100.2" {
		t.Errorf("addr = %s, want media-level 198.51.100.2", remote.Addr)
	}
}

func TestParseRemoteRejectsUnsupportedCodecs(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=pbx 123 1 IN IP4 203.0.113.7\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.7\r\n" +
		"t=0 0\r\n" +
		"m=audio 41000 RTP/AVP 111\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n")

	if _, err := ParseRemote(body); err == nil {
		t.Fatal("expected error for opus-only offer")
	}
}

func TestParseRemoteRejectsVideoOnly(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=pbx 123 1 IN IP4 203.0.113.7\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.7\r\n" +
		"t=0 0\r\n" +
		"m=video 42000 RTP/AVP 96\r\n" +
		"a=rtpmap:96 VP8/90000\r\n")

	if _, err := ParseRemote(body); err == nil {
		t.Fatal("expected error for sdp without audio")
	}
}

func TestParseRemoteRejectsGarbage(t *testing.T) {
	if _, err := ParseRemote([]byte("not sdp at all")); err == nil {
		t.Fatal("expected parse error")
	}
}
