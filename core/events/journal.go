package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is a journalled event enriched with ordering and identity metadata.
// The sequence is strictly increasing for the lifetime of the journal; the ID
// is a random UUID stamped at capture time so external indexers can dedupe
// re-delivered entries.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

// Journal captures emitted events into a bounded in-memory history. It
// implements Emitter and is safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	entries  []Entry
	nowFn    func() int64
}

const defaultJournalCapacity = 1024

// NewJournal constructs a journal retaining at most capacity entries. A
// non-positive capacity falls back to the default.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &Journal{
		capacity: capacity,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the journal clock, primarily for deterministic tests.
func (j *Journal) SetNowFunc(now func() int64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if now == nil {
		j.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	j.nowFn = now
}

// Emit implements the Emitter interface. Events that do not expose a payload
// are recorded with their type only.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	entry := Entry{Type: evt.EventType(), ID: uuid.NewString()}
	if payload, ok := evt.(Payload); ok {
		if canonical := payload.Event(); canonical != nil {
			entry.Type = canonical.Type
			entry.Attributes = cloneAttributes(canonical.Attributes)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	entry.Sequence = j.seq
	entry.RecordedAt = j.nowFn()
	j.entries = append(j.entries, entry)
	if overflow := len(j.entries) - j.capacity; overflow > 0 {
		j.entries = append([]Entry(nil), j.entries[overflow:]...)
	}
}

// Entries returns journalled entries whose type matches the supplied prefix,
// oldest first. A limit <= 0 returns all retained matches.
func (j *Journal) Entries(prefix string, limit int) []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	matches := make([]Entry, 0, len(j.entries))
	for _, entry := range j.entries {
		if prefix != "" && !strings.HasPrefix(entry.Type, prefix) {
			continue
		}
		matches = append(matches, cloneEntry(entry))
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches
}

// Sequence reports the number of events captured since the journal was
// created, including entries already evicted from the bounded history.
func (j *Journal) Sequence() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Attributes = cloneAttributes(entry.Attributes)
	return clone
}

func cloneAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	clone := make(map[string]string, len(attrs))
	for k, v := range attrs {
		clone[k] = v
	}
	return clone
}
