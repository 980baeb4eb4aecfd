package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/skillshub/internal/events"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.Record(ctx, Entry{RequestID: "r1", ToolCallID: "a", Tool: "create_file", Path: "/ws/a", Success: true, Message: "File created: /ws/a", CreatedAt: base}))
	require.NoError(t, store.Record(ctx, Entry{RequestID: "r1", ToolCallID: "b", Tool: "delete_file", Success: false, Error: "Path not found: /ws/b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Record(ctx, Entry{RequestID: "r2", ToolCallID: "c", Tool: "read_file", Success: true, CreatedAt: base.Add(2 * time.Second)}))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ToolCallID, "newest first")

	r1, err := store.List(ctx, ListOptions{RequestID: "r1"})
	require.NoError(t, err)
	require.Len(t, r1, 2)
	assert.False(t, r1[0].Success)
	assert.Equal(t, "Path not found: /ws/b", r1[0].Error)
	assert.Equal(t, "/ws/a", r1[1].Path)

	limited, err := store.List(ctx, ListOptions{Tool: "create_file", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a", limited[0].ToolCallID)
}

func TestRecorderHandlesToolResults(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store)
	ctx := context.Background()

	payload, err := events.ToolResultEvent(events.ToolResult{
		ID:      "toolu_1",
		Name:    "create_file",
		Success: true,
		Message: "File created: /ws/hello.txt",
		Data:    map[string]any{"success": true, "path": "/ws/hello.txt"},
	}).MarshalPayload()
	require.NoError(t, err)

	require.NoError(t, rec.Handle(ctx, events.Envelope{RequestID: "req-9", Type: events.TypeToolResult, Payload: payload, Time: time.Now().UTC()}))
	require.NoError(t, rec.Handle(ctx, events.Envelope{RequestID: "req-9", Type: events.TypeText, Payload: json.RawMessage(`{"content":"hi"}`)}))

	entries, err := store.List(ctx, ListOptions{RequestID: "req-9"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "create_file", entries[0].Tool)
	assert.Equal(t, "/ws/hello.txt", entries[0].Path)
	assert.True(t, entries[0].Success)
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, NoopStore{}, store)

	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err = NewStore(Config{Enabled: true})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLiteStore{}, store)
}
