// Package media implements the softphone's audio path: SDP offer/answer,
// a G.711 RTP session per call and the local port pool. Audio only; the
// softphone never negotiates video.
package media

import "time"

// Codec is an immutable audio codec specification.
type Codec struct {
	Name        string        // Codec name (e.g. "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	FrameDur    time.Duration // Duration of one frame, typically 20ms
}

// Codecs the softphone offers, in preference order.
var (
	// CodecPCMU is G.711 µ-law
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}

	// CodecPCMA is G.711 A-law
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}
)

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames this is 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.FrameDur) / int(time.Second)
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// CodecByPayloadType resolves a negotiated payload type to a supported
// codec. Returns false for anything we do not offer.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, true
	case CodecPCMA.PayloadType:
		return CodecPCMA, true
	default:
		return Codec{}, false
	}
}
