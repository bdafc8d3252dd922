package calllog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crmdesk/softphone/internal/session"
)

// StatusFunc supplies the current session snapshot; the session events
// themselves carry no call details.
type StatusFunc func() session.Status

// Recorder turns session events into journal entries. It snapshots the
// session on every event and keeps the last in-call snapshot around,
// because by the time the ended event fires the session slot is already
// empty.
type Recorder struct {
	builder *Builder
	sink    Sink
	status  StatusFunc

	mu   sync.Mutex
	last session.Status
}

// NewRecorder creates a recorder journaling to sink.
func NewRecorder(account string, status StatusFunc, sink Sink) *Recorder {
	return &Recorder{
		builder: NewBuilder(account),
		sink:    sink,
		status:  status,
	}
}

// Listener returns the session listener to subscribe with.
func (r *Recorder) Listener() session.Listener {
	return session.Listener{
		OnRegistered: func() {
			r.write(r.builder.New(EntryRegistered).Build())
		},
		OnUnregistered: func() {
			r.write(r.builder.New(EntryUnregistered).Build())
		},
		OnCallReceived: func(remote string) {
			r.remember()
			r.write(r.builder.New(EntryCallReceived).
				Direction(session.DirectionInbound.String()).
				Remote(remote).
				Build())
		},
		OnCallStarted: func() {
			st := r.remember()
			r.write(r.builder.New(EntryCallStarted).
				Direction(st.Direction).
				Number(st.Number).
				Remote(st.RemoteURI).
				Build())
		},
		OnCallEnded: func() {
			last := r.take()
			eb := r.builder.New(EntryCallEnded).
				Direction(last.Direction).
				Number(last.Number).
				Remote(last.RemoteURI)
			if !last.StartedAt.IsZero() {
				eb.Duration(time.Since(last.StartedAt))
			}
			r.write(eb.Build())
		},
		OnCallFailed: func(reason string) {
			last := r.take()
			r.write(r.builder.New(EntryCallFailed).
				Direction(last.Direction).
				Number(last.Number).
				Remote(last.RemoteURI).
				Reason(reason).
				Build())
		},
	}
}

// CallPlaced journals a click-to-call dial attempt. Invoked by the
// control surface, which is the only place that knows the dialed number
// before the call establishes.
func (r *Recorder) CallPlaced(number string) {
	r.write(r.builder.New(EntryCallPlaced).
		Direction(session.DirectionOutbound.String()).
		Number(number).
		Build())
}

// remember refreshes the last in-call snapshot and returns it.
func (r *Recorder) remember() session.Status {
	st := r.status()
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.InCall {
		r.last = st
	}
	return r.last
}

// take returns the last snapshot and clears it.
func (r *Recorder) take() session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.last
	r.last = session.Status{}
	return last
}

func (r *Recorder) write(e Entry) {
	if err := r.sink.Write(e); err != nil {
		slog.Warn("[CallLog] Journal write", "type", string(e.Type), "error", err)
	}
}
