package calllog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crmdesk/softphone/internal/session"
)

func TestBuilderStampsDefaults(t *testing.T) {
	b := NewBuilder("sip:1001@pbx.local")

	e := b.New(EntryCallStarted).
		Direction("outbound").
		Number("5551234").
		Remote("sip:5551234@pbx.local").
		Duration(90 * time.Second).
		Build()

	if e.ID == "" {
		t.Error("entry must get an id")
	}
	if e.Type != EntryCallStarted {
		t.Errorf("type = %s", e.Type)
	}
	if e.Account != "sip:1001@pbx.local" {
		t.Errorf("account = %s", e.Account)
	}
	if e.Time.IsZero() || e.Time.Location() != time.UTC {
		t.Errorf("time = %v, want UTC now", e.Time)
	}
	if e.DurationMs != 90000 {
		t.Errorf("duration = %d ms", e.DurationMs)
	}

	other := b.New(EntryCallStarted).Build()
	if other.ID == e.ID {
		t.Error("entry ids must be unique")
	}
}

func TestWriterSinkEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	b := NewBuilder("sip:1001@pbx.local")
	if err := sink.Write(b.New(EntryRegistered).Build()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(b.New(EntryCallEnded).Reason("busy").Build()); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var e Entry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != EntryCallEnded || e.Reason != "busy" {
		t.Errorf("entry = %+v", e)
	}
}

type failingSink struct{ err error }

func (s *failingSink) Write(Entry) error { return s.err }
func (s *failingSink) Close() error      { return s.err }

type countingSink struct{ n int }

func (s *countingSink) Write(Entry) error { s.n++; return nil }
func (s *countingSink) Close() error      { return nil }

func TestMultiSinkDeliversPastFailures(t *testing.T) {
	failing := &failingSink{err: errors.New("disk full")}
	counting := &countingSink{}
	sink := NewMultiSink(failing, counting)

	err := sink.Write(Entry{ID: "1", Type: EntryRegistered})
	if err == nil {
		t.Fatal("expected first sink's error")
	}
	if counting.n != 1 {
		t.Errorf("second sink writes = %d, want 1", counting.n)
	}
}

func TestHistoryRecent(t *testing.T) {
	h := NewHistory(time.Hour)
	defer h.Close()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		h.Write(Entry{
			ID:   string(rune('a' + i)),
			Type: EntryCallEnded,
			Time: base.Add(time.Duration(i) * time.Minute),
		})
	}

	recent := h.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].ID != "e" || recent[1].ID != "d" || recent[2].ID != "c" {
		t.Errorf("order = %s %s %s, want newest first", recent[0].ID, recent[1].ID, recent[2].ID)
	}

	all := h.Recent(0)
	if len(all) != 5 {
		t.Errorf("unlimited len = %d, want 5", len(all))
	}
}

func TestRecorderCallLifecycle(t *testing.T) {
	history := NewHistory(time.Hour)
	defer history.Close()

	status := session.Status{}
	rec := NewRecorder("sip:1001@pbx.local", func() session.Status { return status }, history)
	l := rec.Listener()

	l.OnRegistered()

	// An outbound call establishes.
	status = session.Status{
		InCall:    true,
		CallState: "Established",
		Direction: "outbound",
		Number:    "5551234",
		RemoteURI: "sip:5551234@pbx.local",
		StartedAt: time.Now().Add(-30 * time.Second),
	}
	l.OnCallStarted()

	// The slot is empty again by the time the ended event fires.
	status = session.Status{}
	l.OnCallEnded()

	entries := history.Recent(0)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	byType := make(map[EntryType]Entry)
	for _, e := range entries {
		byType[e.Type] = e
	}

	started, ok := byType[EntryCallStarted]
	if !ok || started.Number != "5551234" || started.Direction != "outbound" {
		t.Errorf("started entry = %+v", started)
	}
	ended, ok := byType[EntryCallEnded]
	if !ok {
		t.Fatal("missing ended entry")
	}
	if ended.Number != "5551234" || ended.RemoteURI != "sip:5551234@pbx.local" {
		t.Errorf("ended entry lost call details: %+v", ended)
	}
	if ended.DurationMs < 29000 {
		t.Errorf("ended duration = %d ms, want about 30s", ended.DurationMs)
	}
}

func TestRecorderFailedCall(t *testing.T) {
	history := NewHistory(time.Hour)
	defer history.Close()

	status := session.Status{}
	rec := NewRecorder("sip:1001@pbx.local", func() session.Status { return status }, history)
	l := rec.Listener()

	status = session.Status{
		InCall:    true,
		CallState: "Establishing",
		Direction: "inbound",
		Number:    "9998887777",
		RemoteURI: "sip:9998887777@pbx.local",
	}
	l.OnCallReceived("sip:9998887777@pbx.local")

	status = session.Status{}
	l.OnCallFailed("rejected")

	entries := history.Recent(0)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	byType := make(map[EntryType]Entry)
	for _, e := range entries {
		byType[e.Type] = e
	}
	failed := byType[EntryCallFailed]
	if failed.Reason != "rejected" || failed.Number != "9998887777" {
		t.Errorf("failed entry = %+v", failed)
	}
	// Ended events after a failure must not reuse the stale snapshot.
	l.OnCallEnded()
	for _, e := range history.Recent(0) {
		if e.Type == EntryCallEnded && e.Number != "" {
			t.Errorf("ended entry reused cleared snapshot: %+v", e)
		}
	}
}

func TestRecorderCallPlaced(t *testing.T) {
	history := NewHistory(time.Hour)
	defer history.Close()

	rec := NewRecorder("sip:1001@pbx.local", func() session.Status { return session.Status{} }, history)
	rec.CallPlaced("5551234")

	entries := history.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != EntryCallPlaced || e.Number != "5551234" || e.Direction != "outbound" {
		t.Errorf("entry = %+v", e)
	}
}
