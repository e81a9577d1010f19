package daemon

import (
	"sync"

	"shelf/internal/notifications"
)

// eventLogCapacity bounds the retained progress history. Clients that lag
// further than this lose the oldest events.
const eventLogCapacity = 256

// ProgressEntry is a recorded progress event with its sequence cursor.
type ProgressEntry struct {
	Seq   int64
	Event notifications.Event
}

// eventLog retains a bounded window of progress events so IPC clients can
// poll with a cursor instead of holding a subscription open.
type eventLog struct {
	mu       sync.Mutex
	entries  []ProgressEntry
	nextSeq  int64
	capacity int
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = eventLogCapacity
	}
	return &eventLog{capacity: capacity, nextSeq: 1}
}

func (l *eventLog) Append(event notifications.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ProgressEntry{Seq: l.nextSeq, Event: event})
	l.nextSeq++
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Since returns entries with a sequence greater than cursor and the cursor
// to use for the next call.
func (l *eventLog) Since(cursor int64) ([]ProgressEntry, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := cursor
	var out []ProgressEntry
	for _, entry := range l.entries {
		if entry.Seq > cursor {
			out = append(out, entry)
			next = entry.Seq
		}
	}
	if len(out) == 0 {
		next = l.nextSeq - 1
	}
	return out, next
}
