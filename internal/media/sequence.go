package media

// SequenceTracker follows RTP sequence numbers with rollover handling.
// Sequence numbers are 16-bit and wrap at 65535; the tracker keeps an
// extended 32-bit counter so packet loss stays accurate across wraps.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	received    uint64
}

// NewSequenceTracker creates a new sequence tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Update records a received sequence number. It returns the extended
// 32-bit sequence number and the packets detected as lost since the
// previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Forward distance in uint16 arithmetic, reinterpreted as signed to
	// tell a jump ahead from a late out-of-order packet (RFC 3550).
	diff := int16(seq - s.lastSeq)
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}

	if s.lastSeq > 0xF000 && seq < 0x1000 {
		s.cycles++
	}
	if diff > 0 {
		s.lastSeq = seq
	}

	return s.cycles<<16 | uint32(s.lastSeq), lost
}

// Received returns the number of packets recorded.
func (s *SequenceTracker) Received() uint64 { return s.received }

// Lost returns the number of packets detected as lost.
func (s *SequenceTracker) Lost() uint64 { return s.lost }
