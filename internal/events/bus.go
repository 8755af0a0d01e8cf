package events

import (
	"sync"
	"time"
)

// RunEvent announces the outcome of one ingestion run.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	State     string    `json:"state"`
	Inserted  int       `json:"inserted"`
	Skipped   int       `json:"skipped"`
	Truncated int       `json:"truncated"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Bus provides in-process pub/sub for ingestion events. Slow subscribers
// miss events instead of blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan RunEvent]struct{}
	closed bool
}

func NewBus() *Bus { return &Bus{subs: make(map[chan RunEvent]struct{})} }

// Subscribe returns a buffered channel of events and a cancel func that
// removes and closes it. After Close the channel comes back already closed.
func (b *Bus) Subscribe() (<-chan RunEvent, func()) {
	ch := make(chan RunEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Close ends every subscription so streaming readers return. Used on server
// shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Bus) Publish(ev RunEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
