// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type string `json:"type"` // "mode", "event", "status"
	Data any    `json:"data"`
}

// Message represents a pre-encoded text frame to be broadcast to clients
type Message struct {
	Data []byte
}

// NewMessage wraps pre-encoded bytes
func NewMessage(data []byte) Message {
	return Message{Data: data}
}

// Encode builds a message from an envelope
func Encode(typ string, data any) (Message, error) {
	b, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return Message{}, err
	}
	return NewMessage(b), nil
}
