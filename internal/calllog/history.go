package calllog

import (
	"sort"
	"time"

	"github.com/crmdesk/softphone/internal/store"
)

// History keeps recent journal entries in memory for the control API.
// Entries age out after their retention period; the process restart
// losing them is fine, the durable record lives in the file and Redis
// sinks.
type History struct {
	retention time.Duration
	entries   *store.TTLStore[string, Entry]
}

// NewHistory creates a history retaining entries for the given period.
func NewHistory(retention time.Duration) *History {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &History{
		retention: retention,
		entries:   store.New[string, Entry](time.Minute),
	}
}

// Write implements Sink, so a History can sit in the sink fan-out.
func (h *History) Write(e Entry) error {
	h.entries.Set(e.ID, e, h.retention)
	return nil
}

// Close implements Sink.
func (h *History) Close() error {
	h.entries.Close()
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(limit int) []Entry {
	all := h.entries.Values()
	sort.Slice(all, func(i, j int) bool {
		return all[i].Time.After(all[j].Time)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
