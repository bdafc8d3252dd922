package media

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// GenerateSSRC returns a cryptographically random 32-bit SSRC, as
// RFC 3550 asks for to minimize collisions.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x5f0f0e01
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart returns a random initial RTP sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart returns a random initial RTP timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// FrameSource produces one encoded audio frame per tick of the send loop.
type FrameSource interface {
	// NextFrame returns the payload for one RTP packet.
	NextFrame() []byte
}

// SilenceSource emits G.711 silence frames. Used while no microphone
// capture is wired in; keeps media flowing so NAT bindings stay open.
type SilenceSource struct {
	frame []byte
}

// NewSilenceSource builds a source of encoded silence for codec.
func NewSilenceSource(codec Codec) *SilenceSource {
	pcm := make([]byte, codec.SamplesPerFrame()*2)
	return &SilenceSource{frame: encodeFrame(codec, pcm)}
}

// NextFrame implements FrameSource.
func (s *SilenceSource) NextFrame() []byte { return s.frame }

// ToneSource emits a continuous sine tone, useful for loop tests against
// a PBX echo extension.
type ToneSource struct {
	codec  Codec
	freq   float64
	phase  float64
	volume float64
}

// NewToneSource builds a tone generator at the given frequency in Hz.
func NewToneSource(codec Codec, freq float64) *ToneSource {
	return &ToneSource{codec: codec, freq: freq, volume: 0.25}
}

// NextFrame implements FrameSource.
func (t *ToneSource) NextFrame() []byte {
	samples := t.codec.SamplesPerFrame()
	pcm := make([]byte, samples*2)
	step := 2 * math.Pi * t.freq / float64(t.codec.SampleRate)
	for i := 0; i < samples; i++ {
		v := int16(t.volume * math.MaxInt16 * math.Sin(t.phase))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return encodeFrame(t.codec, pcm)
}

// encodeFrame converts 16-bit little-endian PCM to the codec's G.711
// encoding.
func encodeFrame(codec Codec, pcm []byte) []byte {
	switch codec.PayloadType {
	case CodecPCMA.PayloadType:
		return g711.EncodeAlaw(pcm)
	default:
		return g711.EncodeUlaw(pcm)
	}
}
