// Package txflow drives a single transaction through its lifecycle states and
// fans the resulting events out to subscribers.
package txflow

import (
	"sync"
	"time"

	"github.com/Proton-105/himera-lend/internal/domain"
)

// Event is one lifecycle transition of a transaction.
type Event struct {
	Action domain.Action  `json:"action"`
	State  domain.TxState `json:"state"`
	Info   string         `json:"info"`
	Hash   string         `json:"hash,omitempty"`
	At     time.Time      `json:"at"`
}

// Progress returns the completion percentage of the event's state.
func (e Event) Progress() int {
	return e.State.Progress()
}

// Sink consumes events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(event Event) {
	f(event)
}

type multiSink []Sink

func (m multiSink) Emit(event Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

// Multi delivers every event to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// States returns the recorded states of action, in order.
func (r *Recorder) States(action domain.Action) []domain.TxState {
	var states []domain.TxState
	for _, event := range r.Events() {
		if event.Action == action {
			states = append(states, event.State)
		}
	}
	return states
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

const defaultSubscriberBuffer = 32

// Broadcaster fans events out to subscribers over buffered channels. A
// subscriber that does not keep up loses events instead of blocking the
// transaction.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster with per-subscriber buffer size.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription. The channel is closed on unsubscribe or Close.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Broadcaster) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
