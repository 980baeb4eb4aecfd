package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriterFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	ctx := context.Background()

	require.NoError(t, w.Emit(ctx, TextEvent("hi")))
	require.NoError(t, w.Emit(ctx, ToolCallEvent("t1", "read_file", nil, StatusPending)))
	require.NoError(t, w.Emit(ctx, DoneEvent(false)))

	want := "event: text\ndata: {\"content\":\"hi\"}\n\n" +
		"event: tool_call\ndata: {\"id\":\"t1\",\"name\":\"read_file\",\"params\":{},\"status\":\"pending\"}\n\n" +
		"event: done\ndata: {}\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestPayloadEncoding(t *testing.T) {
	data, err := DoneEvent(true).MarshalPayload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxIterationsReached":true}`, string(data))

	data, err = ToolResultEvent(ToolResult{
		ID:      "t1",
		Name:    "delete_file",
		Success: false,
		Error:   "Path not found: /x",
		Data:    map[string]any{"success": false, "error": "Path not found: /x"},
	}).MarshalPayload()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "message")
	assert.Equal(t, "Path not found: /x", decoded["data"].(map[string]any)["error"])
}

func TestMultiPrimaryErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	secondary := NewCollector()
	m := NewMulti(Func(func(context.Context, Event) error { return boom }), secondary)

	err := m.Emit(context.Background(), TextEvent("x"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, secondary.Events())
}

func TestMultiIgnoresSecondaryErrors(t *testing.T) {
	primary := NewCollector()
	m := NewMulti(primary, Func(func(context.Context, Event) error { return errors.New("bus down") }))

	require.NoError(t, m.Emit(context.Background(), TextEvent("x")))
	assert.Equal(t, []Type{TypeText}, primary.Types())
}
