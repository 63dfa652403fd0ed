// Package frame defines the envelope pushed to connected clients.
package frame

import (
	"encoding/json"
	"time"
)

// Type tags an outbound message. A request produces zero or more trace
// messages followed by exactly one final or error message.
type Type string

const (
	TypeTrace Type = "trace"
	TypeFinal Type = "final"
	TypeError Type = "error"
)

// Message is the typed payload inside a Frame.
type Message struct {
	Type                   Type            `json:"type"`
	RequestID              string          `json:"requestId,omitempty"`
	Status                 string          `json:"status,omitempty"`
	Content                json.RawMessage `json:"content,omitempty"`
	SafetyCheckResponse    string          `json:"safetyCheckResponse,omitempty"`
	SafetyCheckPerformedAt string          `json:"safetyCheckPerformedAt,omitempty"`
	AgentFramework         string          `json:"agentFramework,omitempty"`
}

// Frame is the wire envelope delivered to a single connection. Timestamps
// are pre-rendered to strings so the envelope always serializes cleanly.
type Frame struct {
	Message   Message `json:"message"`
	Sender    string  `json:"sender"`
	Timestamp string  `json:"timestamp"`
}

// New wraps msg in a Frame addressed from connectionID, stamped with the
// current time.
func New(connectionID string, msg Message) Frame {
	return Frame{
		Message:   msg,
		Sender:    connectionID,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// Encode renders the frame as JSON.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
