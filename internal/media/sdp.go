package media

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// RemoteEndpoint is the media destination negotiated with the peer.
type RemoteEndpoint struct {
	Addr  string
	Port  int
	Codec Codec
}

// BuildOffer creates an audio-only SDP offer listing our supported G.711
// codecs.
func BuildOffer(localAddr string, rtpPort int) ([]byte, error) {
	return buildDescription(localAddr, rtpPort, []Codec{CodecPCMU, CodecPCMA})
}

// BuildAnswer creates an audio-only SDP answer locked to the codec
// selected from the peer's offer.
func BuildAnswer(localAddr string, rtpPort int, codec Codec) ([]byte, error) {
	return buildDescription(localAddr, rtpPort, []Codec{codec})
}

func buildDescription(localAddr string, rtpPort int, codecs []Codec) ([]byte, error) {
	formats := make([]string, 0, len(codecs))
	attributes := make([]sdp.Attribute, 0, len(codecs)+2)
	for _, c := range codecs {
		pt := strconv.Itoa(int(c.PayloadType))
		formats = append(formats, pt)
		attributes = append(attributes, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%s %s/%d", pt, c.Name, c.SampleRate),
		})
	}
	attributes = append(attributes,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "sendrecv"},
	)

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "softphone",
			SessionID:      uint64(GenerateSSRC()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localAddr,
		},
		SessionName: "CRMDesk Softphone Call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localAddr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: rtpPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attributes,
			},
		},
	}
	return desc.Marshal()
}

// ParseRemote extracts the peer's audio endpoint from an SDP offer or
// answer. The first mutually supported codec wins; peers offering only
// codecs we do not support are an error.
func ParseRemote(body []byte) (*RemoteEndpoint, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}
		if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			addr = m.ConnectionInformation.Address.Address
		}
		if addr == "" {
			return nil, fmt.Errorf("sdp has no connection address")
		}
		for _, format := range m.MediaName.Formats {
			pt, err := strconv.Atoi(format)
			if err != nil || pt < 0 || pt > 255 {
				continue
			}
			if codec, ok := CodecByPayloadType(uint8(pt)); ok {
				return &RemoteEndpoint{
					Addr:  addr,
					Port:  m.MediaName.Port.Value,
					Codec: codec,
				}, nil
			}
		}
		return nil, fmt.Errorf("no supported audio codec in sdp")
	}
	return nil, fmt.Errorf("sdp has no audio section")
}
