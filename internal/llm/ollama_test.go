package llm

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOllamaStream(t *testing.T) {
	body := `{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}
not json at all
{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true}
{"model":"llama3.2","message":{"role":"assistant","content":"ignored"},"done":false}
`
	var captured capturedRequest
	srv := sseServer(t, http.StatusOK, body, &captured)
	p := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL})

	events := streamAll(t, p, Request{
		System:   "sys",
		Messages: []Message{UserMessage{Text: "hi"}},
		Tools:    []ToolSpec{{Name: "read_file"}},
	})

	var text string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
		assert.NotContains(t, []EventType{EventToolCall, EventToolCallStart}, ev.Type, "ollama must not produce tool events")
	}
	assert.Equal(t, "Hello", text)
	last := events[len(events)-1]
	assert.Equal(t, EventTurnEnd, last.Type)
	assert.True(t, last.Complete)

	assert.Equal(t, "/api/chat", captured.path)
	req := string(captured.body)
	assert.Equal(t, "llama3.2", gjson.Get(req, "model").String())
	assert.True(t, gjson.Get(req, "stream").Bool())
	assert.Equal(t, "system", gjson.Get(req, "messages.0.role").String())
	assert.Equal(t, "hi", gjson.Get(req, "messages.1.content").String())
	assert.False(t, gjson.Get(req, "tools").Exists(), "tools must not be sent to ollama: %s", req)
}

func TestOllamaErrorIsFixed(t *testing.T) {
	srv := sseServer(t, http.StatusNotFound, `{"error":"model 'x' not found"}`, nil)
	p := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL, Model: "x"})

	stream, _ := p.Stream(context.Background(), Request{Messages: []Message{UserMessage{Text: "hi"}}})
	_, err := drain(t, stream)
	require.EqualError(t, err, "Ollama API error - is Ollama running?")
}
