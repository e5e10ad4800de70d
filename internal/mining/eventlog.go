package mining

import (
	"fmt"
	"sync"
	"time"
)

// DefaultEventLogCapacity bounds the event ring when no capacity is given.
const DefaultEventLogCapacity = 1000

// LogEntry is one timestamped line of engine activity.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// EventLog is an append-only bounded activity stream. Oldest entries are
// silently discarded past capacity. Appends never block: subscribers that lag
// lose entries rather than slowing the engine.
type EventLog struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int // index of the oldest entry
	count   int
	subs    map[int]chan LogEntry
	nextSub int
}

// NewEventLog creates an event log holding at most capacity entries.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{
		entries: make([]LogEntry, capacity),
		subs:    make(map[int]chan LogEntry),
	}
}

// Append adds a formatted entry, dropping the oldest entry at capacity.
func (el *EventLog) Append(level, format string, args ...any) {
	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	el.mu.Lock()
	size := len(el.entries)
	if el.count < size {
		el.entries[(el.head+el.count)%size] = entry
		el.count++
	} else {
		el.entries[el.head] = entry
		el.head = (el.head + 1) % size
	}

	for _, ch := range el.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber, entry dropped for that subscriber only.
		}
	}
	el.mu.Unlock()
}

// Snapshot returns a copy of the retained entries, oldest first.
func (el *EventLog) Snapshot() []LogEntry {
	el.mu.Lock()
	defer el.mu.Unlock()

	out := make([]LogEntry, el.count)
	for i := 0; i < el.count; i++ {
		out[i] = el.entries[(el.head+i)%len(el.entries)]
	}
	return out
}

// Len returns the number of retained entries.
func (el *EventLog) Len() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.count
}

// Subscribe registers a live entry stream with the given channel buffer.
// The returned cancel function must be called to release the subscription.
func (el *EventLog) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogEntry, buffer)

	el.mu.Lock()
	id := el.nextSub
	el.nextSub++
	el.subs[id] = ch
	el.mu.Unlock()

	cancel := func() {
		el.mu.Lock()
		if _, ok := el.subs[id]; ok {
			delete(el.subs, id)
			close(ch)
		}
		el.mu.Unlock()
	}
	return ch, cancel
}
