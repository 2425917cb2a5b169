// Package hub fans messages out to websocket viewers: panel previews as
// binary PNG frames and transfer events as JSON.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded event.
	JSONMessage MessageType = iota
	// BinaryMessage is raw image data.
	BinaryMessage
)

// Message is one queued websocket write.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event is the JSON envelope sent to progress viewers.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Time: time.Now(), Data: data}
}

// Encode marshals the event into a JSON message.
func (e Event) Encode() (Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(b), nil
}
