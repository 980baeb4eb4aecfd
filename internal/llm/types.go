package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Success    bool
	Message    string
	Error      string
	ErrorType  string
	Data       map[string]any
}

// Payload renders the flat result object shown to the UI and fed back to
// the model: {success, message?, error?, errorType?, ...data}.
func (r ToolResult) Payload() map[string]any {
	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorType != "" {
		out["errorType"] = r.ErrorType
	}
	return out
}

// PayloadJSON is Payload encoded as JSON.
func (r ToolResult) PayloadJSON() string {
	data, err := json.Marshal(r.Payload())
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(data)
}

// ToolExecutor runs tool calls on behalf of the engine. Implementations
// must convert every failure into an unsuccessful ToolResult.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) ToolResult
}

// EventType describes streaming events produced by providers.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolCallStart EventType = "tool_call_start" // first sight of a tool call, arguments still streaming
	EventToolCall      EventType = "tool_call"       // arguments complete
	EventTurnEnd       EventType = "turn_end"
)

// Event represents a streamed output update.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	// Complete is set on EventTurnEnd when the provider sent an explicit
	// completion marker, or when the adapter treats stream end as one.
	Complete   bool
	StopReason string
}

// ModelInfo represents a model available from a provider.
type ModelInfo struct {
	ID          string
	DisplayName string
	Created     int64
	OwnedBy     string
}
