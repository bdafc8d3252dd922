package media

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/crmdesk/softphone/internal/metrics"
)

// Stats summarizes one media session.
type Stats struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsLost     uint64 `json:"packets_lost"`
}

// Session is one bidirectional G.711 RTP stream. It binds a local port
// from the pool, streams frames from a FrameSource to the negotiated
// remote endpoint and counts what comes back.
type Session struct {
	codec  Codec
	source FrameSource
	conn   *net.UDPConn
	remote *net.UDPAddr

	ssrc      uint32
	seq       uint16
	timestamp uint32

	mu       sync.Mutex
	sent     uint64
	tracker  *SequenceTracker
	closed   bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSession binds localPort and prepares a session toward remote.
// Start must be called to begin streaming.
func NewSession(localAddr string, localPort int, remote *RemoteEndpoint, source FrameSource) (*Session, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   net.ParseIP(localAddr),
		Port: localPort,
	})
	if err != nil {
		return nil, fmt.Errorf("bind rtp port %d: %w", localPort, err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", remote.Addr, remote.Port))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve remote rtp endpoint: %w", err)
	}

	return &Session{
		codec:     remote.Codec,
		source:    source,
		conn:      conn,
		remote:    remoteAddr,
		ssrc:      GenerateSSRC(),
		seq:       GenerateSequenceStart(),
		timestamp: GenerateTimestampStart(),
		tracker:   NewSequenceTracker(),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the send and receive loops.
func (s *Session) Start() {
	s.wg.Add(2)
	go s.sendLoop()
	go s.receiveLoop()
	slog.Debug("[Media] Session started",
		"codec", s.codec.Name,
		"local", s.conn.LocalAddr().String(),
		"remote", s.remote.String(),
	)
}

// Close stops both loops and releases the socket. Safe to call twice.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.conn.Close()
	})
	s.wg.Wait()
}

// Stats returns a snapshot of the session's packet counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		PacketsSent:     s.sent,
		PacketsReceived: s.tracker.Received(),
		PacketsLost:     s.tracker.Lost(),
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.codec.FrameDur)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			payload := s.source.NextFrame()
			pkt := rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         first,
					PayloadType:    s.codec.PayloadType,
					SequenceNumber: s.seq,
					Timestamp:      s.timestamp,
					SSRC:           s.ssrc,
				},
				Payload: payload,
			}
			first = false

			buf, err := pkt.Marshal()
			if err != nil {
				slog.Warn("[Media] RTP marshal", "error", err)
				continue
			}
			if _, err := s.conn.WriteToUDP(buf, s.remote); err != nil {
				if !s.isClosed() {
					slog.Warn("[Media] RTP write", "error", err)
				}
				continue
			}

			s.seq++
			s.timestamp += s.codec.TimestampIncrement()
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
			metrics.RTPPacketsSent.Inc()
		}
	}
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("[Media] RTP read", "error", err)
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		s.mu.Lock()
		s.tracker.Update(pkt.SequenceNumber)
		s.mu.Unlock()
		metrics.RTPPacketsReceived.Inc()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
