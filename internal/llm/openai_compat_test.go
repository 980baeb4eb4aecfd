package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const openAIToolStream = `data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Sure"}}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"create_file","arguments":""}}]}}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"/ws\",\"name\":"}}]}}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"hello.txt\",\"content\":\"Hello\"}"}}]}}]}

data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]

`

func newTestOpenAI(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "sk-openai", BaseURL: baseURL})
	require.NoError(t, err)
	return p
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestOpenAIStreamToolCall(t *testing.T) {
	var captured capturedRequest
	srv := sseServer(t, http.StatusOK, openAIToolStream, &captured)
	p := newTestOpenAI(t, srv.URL)

	events := streamAll(t, p, Request{
		System:   "be brief",
		Messages: []Message{UserMessage{Text: "create hello.txt"}},
		Tools:    []ToolSpec{{Name: "create_file", Description: "Creates", Schema: map[string]interface{}{"type": "object"}}},
	})

	require.Equal(t, []EventType{EventTextDelta, EventToolCallStart, EventToolCall, EventTurnEnd}, eventTypes(events))
	assert.Equal(t, "call_abc", events[1].Tool.ID)
	assert.Equal(t, "create_file", events[1].Tool.Name)
	var args map[string]string
	require.NoError(t, json.Unmarshal(events[2].Tool.Arguments, &args))
	assert.Equal(t, "hello.txt", args["name"])
	assert.True(t, events[3].Complete, "turn should be complete after [DONE]")

	assert.Equal(t, "/chat/completions", captured.path)
	assert.Equal(t, "Bearer sk-openai", captured.headers.Get("Authorization"))
	body := string(captured.body)
	assert.Equal(t, "auto", gjson.Get(body, "tool_choice").String())
	assert.EqualValues(t, 4096, gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, "system", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, "be brief", gjson.Get(body, "messages.0.content").String())
	assert.Equal(t, "function", gjson.Get(body, "tools.0.type").String())
	assert.Equal(t, "create_file", gjson.Get(body, "tools.0.function.name").String())
}

func TestOpenAIWithoutDoneIsIncomplete(t *testing.T) {
	body := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"read_file","arguments":"{}"}}]}}]}

`
	srv := sseServer(t, http.StatusOK, body, nil)
	p := newTestOpenAI(t, srv.URL)

	events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "x"}}})
	require.Equal(t, []EventType{EventToolCallStart, EventTurnEnd}, eventTypes(events))
	assert.Equal(t, "tool_0", events[0].Tool.ID, "placeholder id expected")
	assert.False(t, events[1].Complete)
}

func TestCustomFinishReasonCompletes(t *testing.T) {
	body := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c9","function":{"name":"list_files","arguments":"{\"path\":\".\"}"}}]}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

`
	var captured capturedRequest
	srv := sseServer(t, http.StatusOK, body, &captured)
	p, err := NewCustomProvider(ProviderConfig{BaseURL: srv.URL + "/v1/", ImplicitCompletion: boolRef(false)})
	require.NoError(t, err)

	events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "ls"}}})
	last := events[len(events)-1]
	require.Equal(t, EventTurnEnd, last.Type)
	assert.True(t, last.Complete, "finish_reason should complete the turn")
	assert.Equal(t, "tool_calls", last.StopReason)
	assert.Equal(t, EventToolCall, events[len(events)-2].Type, "call not finalised")

	assert.Equal(t, "/v1/chat/completions", captured.path)
	assert.Empty(t, captured.headers.Get("Authorization"), "no Authorization header expected without a key")
	assert.Equal(t, "default", gjson.GetBytes(captured.body, "model").String())
}

func TestCompatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		custom bool
		want   string
	}{
		{"openai message", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, false, "bad model"},
		{"openai fallback", http.StatusBadGateway, `nope`, false, "OpenAI API error"},
		{"custom fallback", http.StatusInternalServerError, ``, true, "Custom API error"},
		{"in-stream error", http.StatusOK, "data: {\"error\":{\"message\":\"rate limited\"}}\n\n", false, "rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := sseServer(t, tt.status, tt.body, nil)
			var p Provider
			if tt.custom {
				p, _ = NewCustomProvider(ProviderConfig{BaseURL: srv.URL})
			} else {
				p = newTestOpenAI(t, srv.URL)
			}
			stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage{Text: "x"}}})
			require.NoError(t, err)
			_, err = drain(t, stream)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestBuildCompatMessagesToolResults(t *testing.T) {
	msgs := buildCompatMessages("", []Message{
		UserMessage{Text: "hi"},
		AssistantMessage{ToolCalls: []ToolCall{{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`not json`)}}},
		ToolResultsMessage{Results: []ToolResult{{ToolCallID: "c1", Success: true, Data: map[string]any{"content": "x"}}}},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "{}", msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "x", gjson.Get(msgs[2].Content, "content").String())
	assert.True(t, gjson.Get(msgs[2].Content, "success").Bool())
}

func TestNewCustomProviderRequiresBaseURL(t *testing.T) {
	_, err := NewCustomProvider(ProviderConfig{APIKey: "k"})
	require.EqualError(t, err, "Custom API base URL is required")
}
