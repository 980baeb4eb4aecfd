package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const anthropicToolStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":null,"usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Creating "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"the file."}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"create_file","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"/ws\","}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"name\":\"hello.txt\",\"content\":\"Hello\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}

event: message_stop
data: {"type":"message_stop"}

`

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

func sseServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.path = r.URL.Path
			captured.headers = r.Header.Clone()
			captured.body, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAnthropic(t *testing.T, baseURL string, implicit *bool) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(ProviderConfig{APIKey: "sk-test", BaseURL: baseURL, ImplicitCompletion: implicit})
	require.NoError(t, err)
	return p
}

func boolRef(v bool) *bool { return &v }

func streamAll(t *testing.T, p Provider, req Request) []Event {
	t.Helper()
	stream, err := p.Stream(context.Background(), req)
	require.NoError(t, err)
	events, err := drain(t, stream)
	require.NoError(t, err)
	return events
}

func TestAnthropicStreamToolCall(t *testing.T) {
	var captured capturedRequest
	srv := sseServer(t, http.StatusOK, anthropicToolStream, &captured)
	p := newTestAnthropic(t, srv.URL, nil)

	events := streamAll(t, p, Request{
		Messages: []Message{UserMessage{Text: "create hello.txt"}},
		Tools: []ToolSpec{{
			Name:        "create_file",
			Description: "Creates a new file",
			Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []string{"path"},
			},
		}},
	})

	var text string
	var start, final *ToolCall
	var end *Event
	for i := range events {
		ev := events[i]
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventToolCallStart:
			start = ev.Tool
		case EventToolCall:
			final = ev.Tool
		case EventTurnEnd:
			end = &events[i]
		}
	}
	assert.Equal(t, "Creating the file.", text)
	require.NotNil(t, start)
	assert.Equal(t, "toolu_1", start.ID)
	assert.Equal(t, "create_file", start.Name)
	require.NotNil(t, final, "no finalised tool call")
	var args map[string]string
	require.NoError(t, json.Unmarshal(final.Arguments, &args))
	assert.Equal(t, "hello.txt", args["name"])
	assert.Equal(t, "Hello", args["content"])
	require.NotNil(t, end)
	assert.True(t, end.Complete)
	assert.Equal(t, "tool_use", end.StopReason)

	assert.Equal(t, "/v1/messages", captured.path)
	assert.Equal(t, "sk-test", captured.headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", captured.headers.Get("anthropic-version"))
	body := string(captured.body)
	assert.True(t, gjson.Get(body, "stream").Bool(), "stream flag missing: %s", body)
	assert.Equal(t, defaultAnthropicModel, gjson.Get(body, "model").String())
	assert.Equal(t, DefaultSystemPrompt, gjson.Get(body, "system.0.text").String())
	assert.Equal(t, "create_file", gjson.Get(body, "tools.0.name").String())
	assert.Equal(t, "object", gjson.Get(body, "tools.0.input_schema.type").String())
}

func TestAnthropicSkipsMalformedFrames(t *testing.T) {
	corrupt := strings.Replace(anthropicToolStream,
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\ndata: {this is not json\n", 1)
	srv := sseServer(t, http.StatusOK, corrupt, nil)
	p := newTestAnthropic(t, srv.URL, nil)

	events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "hi"}}})
	var calls int
	for _, ev := range events {
		if ev.Type == EventToolCall {
			calls++
		}
	}
	assert.Equal(t, 1, calls, "tool calls after corrupt frame")
}

func TestAnthropicMessagesWireShape(t *testing.T) {
	var captured capturedRequest
	srv := sseServer(t, http.StatusOK, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", &captured)
	p := newTestAnthropic(t, srv.URL, nil)

	streamAll(t, p, Request{
		System: "be brief",
		Messages: []Message{
			SystemMessage{Text: "dropped"},
			UserMessage{Text: "create hello.txt"},
			AssistantMessage{Text: "ok", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "create_file", Arguments: json.RawMessage(`{"path":"/ws"}`)}}},
			ToolResultsMessage{Results: []ToolResult{{ToolCallID: "toolu_1", Name: "create_file", Success: false, Error: "boom"}}},
		},
	})

	body := string(captured.body)
	assert.Equal(t, "be brief", gjson.Get(body, "system.0.text").String())
	require.EqualValues(t, 3, gjson.Get(body, "messages.#").Int(), "system message should be dropped: %s", body)
	assert.Equal(t, "tool_use", gjson.Get(body, "messages.1.content.1.type").String())
	assert.Equal(t, "/ws", gjson.Get(body, "messages.1.content.1.input.path").String())

	result := gjson.Get(body, "messages.2.content.0")
	assert.Equal(t, "tool_result", result.Get("type").String())
	assert.Equal(t, "toolu_1", result.Get("tool_use_id").String())
	assert.True(t, result.Get("is_error").Bool(), "failed result should set is_error: %s", result.Raw)
	payload := result.Get("content.0.text").String()
	assert.Equal(t, "boom", gjson.Get(payload, "error").String())
	assert.False(t, gjson.Get(payload, "success").Bool())
}

func TestAnthropicAPIError(t *testing.T) {
	srv := sseServer(t, http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, nil)
	p := newTestAnthropic(t, srv.URL, nil)

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserMessage{Text: "hi"}}})
	require.NoError(t, err)
	_, err = drain(t, stream)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid x-api-key", apiErr.Message)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestAnthropicAPIErrorFallback(t *testing.T) {
	srv := sseServer(t, http.StatusInternalServerError, `<html>oops</html>`, nil)
	p := newTestAnthropic(t, srv.URL, nil)

	stream, _ := p.Stream(context.Background(), Request{Messages: []Message{UserMessage{Text: "hi"}}})
	_, err := drain(t, stream)
	require.EqualError(t, err, "Anthropic API error")
}

func TestAnthropicInStreamError(t *testing.T) {
	body := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"
	srv := sseServer(t, http.StatusOK, body, nil)
	p := newTestAnthropic(t, srv.URL, nil)

	stream, _ := p.Stream(context.Background(), Request{Messages: []Message{UserMessage{Text: "hi"}}})
	events, err := drain(t, stream)
	require.EqualError(t, err, "Overloaded")
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Text)
}

// truncatedToolStream ends after the tool block opened, with no stop events.
const truncatedToolStream = `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"read_file","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"a.md\"}"}}

`

func TestAnthropicImplicitCompletion(t *testing.T) {
	srv := sseServer(t, http.StatusOK, truncatedToolStream, nil)

	t.Run("enabled", func(t *testing.T) {
		p := newTestAnthropic(t, srv.URL, nil)
		events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "read"}}})
		last := events[len(events)-1]
		require.Equal(t, EventTurnEnd, last.Type)
		assert.True(t, last.Complete)
		prev := events[len(events)-2]
		require.Equal(t, EventToolCall, prev.Type)
		assert.JSONEq(t, `{"path":"a.md"}`, string(prev.Tool.Arguments))
	})

	t.Run("disabled", func(t *testing.T) {
		p := newTestAnthropic(t, srv.URL, boolRef(false))
		events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "read"}}})
		for _, ev := range events {
			assert.NotEqual(t, EventToolCall, ev.Type, "unexpected finalised call %#v", ev.Tool)
		}
		last := events[len(events)-1]
		require.Equal(t, EventTurnEnd, last.Type)
		assert.False(t, last.Complete)
	})
}

// unclosedBlockStream completes the message without closing the tool block.
const unclosedBlockStream = `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_7","name":"read_file","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"b.md\"}"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":5}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicCompleteTurnFlushesOpenBlocks(t *testing.T) {
	srv := sseServer(t, http.StatusOK, unclosedBlockStream, nil)
	// flushing on a completion marker does not depend on implicit completion
	p := newTestAnthropic(t, srv.URL, boolRef(false))

	events := streamAll(t, p, Request{Messages: []Message{UserMessage{Text: "read"}}})
	var final *ToolCall
	for _, ev := range events {
		if ev.Type == EventToolCall {
			final = ev.Tool
		}
	}
	require.NotNil(t, final, "open tool block was not finalised")
	assert.Equal(t, "toolu_7", final.ID)
	assert.JSONEq(t, `{"path":"b.md"}`, string(final.Arguments))
	last := events[len(events)-1]
	require.Equal(t, EventTurnEnd, last.Type)
	assert.True(t, last.Complete)
}

func TestToolCallAccumulatorInvalidArguments(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(0, ToolCall{ID: "a", Name: "read_file"})
	acc.Append(0, `{"path": "unterminated`)
	call, ok := acc.Finish(0)
	require.True(t, ok)
	assert.Equal(t, "{}", string(call.Arguments))
	_, ok = acc.Finish(0)
	assert.False(t, ok, "second Finish should report nothing")
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	_, err := NewAnthropicProvider(ProviderConfig{})
	require.EqualError(t, err, "Anthropic API key is required")
}
