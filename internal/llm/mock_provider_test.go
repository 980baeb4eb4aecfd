package llm

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
)

// scriptedTurn is one provider response for mockProvider.
type scriptedTurn struct {
	events []Event
	err    error // returned from Recv after the events
}

// mockProvider replays scripted turns and records every request.
type mockProvider struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []Request
	// repeat replays the last turn forever once the script runs out.
	repeat bool
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))
	var turn scriptedTurn
	switch {
	case len(m.turns) > 0:
		turn = m.turns[0]
		if len(m.turns) > 1 || !m.repeat {
			m.turns = m.turns[1:]
		}
	default:
		turn = scriptedTurn{events: []Event{{Type: EventTurnEnd, Complete: true}}}
	}
	m.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, ev := range turn.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return turn.err
	}), nil
}

func (m *mockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func cloneRequest(req Request) Request {
	req.Messages = append([]Message(nil), req.Messages...)
	return req
}

// toolTurn scripts a complete turn calling one tool.
func toolTurn(id, name, args string) scriptedTurn {
	return scriptedTurn{events: []Event{
		{Type: EventToolCallStart, Tool: &ToolCall{ID: id, Name: name}},
		{Type: EventToolCall, Tool: &ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}},
		{Type: EventTurnEnd, Complete: true},
	}}
}

func textTurn(text string) scriptedTurn {
	return scriptedTurn{events: []Event{
		{Type: EventTextDelta, Text: text},
		{Type: EventTurnEnd, Complete: true},
	}}
}

// recordingExecutor returns canned results and records calls.
type recordingExecutor struct {
	mu     sync.Mutex
	calls  []ToolCall
	result func(ToolCall) ToolResult
}

func (r *recordingExecutor) Execute(ctx context.Context, call ToolCall) ToolResult {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.result != nil {
		return r.result(call)
	}
	return ToolResult{Success: true, Message: "ok: " + call.Name}
}

func (r *recordingExecutor) Calls() []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCall(nil), r.calls...)
}

// drain reads a stream to the end.
func drain(t *testing.T, s Stream) ([]Event, error) {
	t.Helper()
	defer s.Close()
	var out []Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
