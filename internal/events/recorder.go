package events

import (
	"encoding/json"
	"sync"
)

// Recorded is one event captured by Recorder. SessionID is empty for
// broadcasts.
type Recorded struct {
	SessionID string
	Event     string
	Payload   any
}

// Recorder is an Emitter that keeps every event in order. Test helper.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Broadcast(event string, payload any) {
	r.add(Recorded{Event: event, Payload: payload})
}

func (r *Recorder) SendTo(sessionID, event string, payload any) {
	r.add(Recorded{SessionID: sessionID, Event: event, Payload: payload})
}

func (r *Recorder) add(ev Recorded) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Names returns event names in emission order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Event)
	}
	return out
}

// Last returns the most recent event with the given name.
func (r *Recorder) Last(event string) (Recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Event == event {
			return r.events[i], true
		}
	}
	return Recorded{}, false
}

// Count returns how many events with the given name were emitted.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Event == event {
			n++
		}
	}
	return n
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Notify receives after new events are recorded. Signals coalesce.
func (r *Recorder) Notify() <-chan struct{} { return r.notify }

// JSON re-encodes a recorded payload, for assertions on the wire shape.
func (ev Recorded) JSON() string {
	b, _ := json.Marshal(ev.Payload)
	return string(b)
}
