// Package events defines the canonical event protocol streamed to UI
// consumers and the emitters that deliver it.
package events

import (
	"encoding/json"
)

// Type is the SSE event name.
type Type string

const (
	TypeText       Type = "text"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Status is the lifecycle stage carried by a tool_call event.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Event is one outbound event. Payload is one of the payload structs
// below and is encoded as the SSE data line.
type Event struct {
	Type    Type
	Payload any
}

type Text struct {
	Content string `json:"content"`
}

type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
	Status Status          `json:"status"`
}

type ToolResult struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type Done struct {
	MaxIterationsReached bool `json:"maxIterationsReached,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

var emptyParams = json.RawMessage("{}")

func TextEvent(content string) Event {
	return Event{Type: TypeText, Payload: Text{Content: content}}
}

// ToolCallEvent builds a tool_call event; nil params are sent as {}.
func ToolCallEvent(id, name string, params json.RawMessage, status Status) Event {
	if len(params) == 0 {
		params = emptyParams
	}
	return Event{Type: TypeToolCall, Payload: ToolCall{ID: id, Name: name, Params: params, Status: status}}
}

func ToolResultEvent(result ToolResult) Event {
	return Event{Type: TypeToolResult, Payload: result}
}

func DoneEvent(maxIterationsReached bool) Event {
	return Event{Type: TypeDone, Payload: Done{MaxIterationsReached: maxIterationsReached}}
}

func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Payload: Error{Message: message}}
}

// MarshalPayload encodes the event's payload as it appears on the wire.
func (e Event) MarshalPayload() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Payload)
}
