// Package events fans out run and scene state changes to drivers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names what happened
type Kind string

const (
	RunStarted   Kind = "run_started"
	RunAborted   Kind = "run_aborted"
	RunScripted  Kind = "run_scripted"
	SceneChanged Kind = "scene_changed"
	RunFinalized Kind = "run_finalized"
	FinalizeFail Kind = "finalize_failed"
)

// Event is one observable transition of a run
type Event struct {
	RunID   int64     `json:"run_id"`
	Scene   int       `json:"scene,omitempty"`
	Kind    Kind      `json:"kind"`
	State   string    `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 32

// Bus delivers events to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]func(Event) bool
	dropped     atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]func(Event) bool)}
}

// Subscribe registers a subscriber. filter may be nil to receive everything.
func (b *Bus) Subscribe(filter func(Event) bool) <-chan Event {
	ch := make(chan Event, DefaultBuffer)
	if filter == nil {
		filter = func(Event) bool { return true }
	}

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()
	return ch
}

// ForRun is a filter matching one run
func ForRun(runID int64) func(Event) bool {
	return func(e Event) bool { return e.RunID == runID }
}

// Unsubscribe removes and closes a subscriber channel
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		if ch == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish stamps and delivers e to every matching subscriber
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if !filter(e) {
			continue
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped for full subscribers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan Event]func(Event) bool)
}
