// Package events carries the checkpoint's UI event channel: named events
// with JSON payloads pushed to every connected client, or to one client
// identified by its session id.
package events

import (
	"context"
	"encoding/json"
)

// Emitter is how the core publishes UI events. Payloads are marshalled
// to JSON; a nil payload is sent as an empty object.
type Emitter interface {
	Broadcast(event string, payload any)
	SendTo(sessionID, event string, payload any)
}

// Handler receives client → server events.
type Handler interface {
	HandleClientEvent(ctx context.Context, sessionID, event string, data json.RawMessage) error
}

// Message is the wire envelope in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload == nil {
		data = json.RawMessage("{}")
	} else {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Message{Event: event, Data: data})
}

// Nop drops every event.
type Nop struct{}

func (Nop) Broadcast(string, any)      {}
func (Nop) SendTo(string, string, any) {}
