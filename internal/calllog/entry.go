// Package calllog records the softphone's call history: every
// registration and call lifecycle event becomes a journal entry fanned
// out to the configured sinks (file, Redis, in-memory history).
package calllog

import (
	"time"

	"github.com/google/uuid"
)

// EntryType discriminates journal entries.
type EntryType string

const (
	EntryRegistered   EntryType = "registered"
	EntryUnregistered EntryType = "unregistered"
	EntryCallReceived EntryType = "call_received"
	EntryCallPlaced   EntryType = "call_placed"
	EntryCallStarted  EntryType = "call_started"
	EntryCallEnded    EntryType = "call_ended"
	EntryCallFailed   EntryType = "call_failed"
)

// Entry is one journal record. Serialized as a JSON line in file sinks
// and as a JSON list element in Redis.
type Entry struct {
	ID         string    `json:"id"`
	Type       EntryType `json:"type"`
	Time       time.Time `json:"time"`
	Account    string    `json:"account,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Number     string    `json:"number,omitempty"`
	RemoteURI  string    `json:"remote_uri,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Builder provides fluent construction of entries with consistent
// defaults.
type Builder struct {
	account string
}

// NewBuilder creates an entry builder stamping account on every entry.
func NewBuilder(account string) *Builder {
	return &Builder{account: account}
}

// New starts building an entry of the given type.
func (b *Builder) New(t EntryType) *EntryBuilder {
	return &EntryBuilder{entry: Entry{
		ID:      uuid.New().String(),
		Type:    t,
		Time:    time.Now().UTC(),
		Account: b.account,
	}}
}

// EntryBuilder accumulates optional entry fields.
type EntryBuilder struct {
	entry Entry
}

func (eb *EntryBuilder) Direction(d string) *EntryBuilder {
	eb.entry.Direction = d
	return eb
}

func (eb *EntryBuilder) Number(n string) *EntryBuilder {
	eb.entry.Number = n
	return eb
}

func (eb *EntryBuilder) Remote(uri string) *EntryBuilder {
	eb.entry.RemoteURI = uri
	return eb
}

func (eb *EntryBuilder) Reason(r string) *EntryBuilder {
	eb.entry.Reason = r
	return eb
}

func (eb *EntryBuilder) Duration(d time.Duration) *EntryBuilder {
	eb.entry.DurationMs = d.Milliseconds()
	return eb
}

func (eb *EntryBuilder) Build() Entry {
	return eb.entry
}
