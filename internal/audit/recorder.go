package audit

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/samsaffron/skillshub/internal/events"
)

// Recorder turns tool_result events from the bus into audit entries.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Run consumes the bus until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) error {
	return bus.Subscribe(ctx, r.Handle)
}

// Handle records env when it is a tool_result; other events are ignored.
func (r *Recorder) Handle(ctx context.Context, env events.Envelope) error {
	if env.Type != events.TypeToolResult {
		return nil
	}
	payload := gjson.ParseBytes(env.Payload)
	entry := Entry{
		RequestID:  env.RequestID,
		ToolCallID: payload.Get("id").String(),
		Tool:       payload.Get("name").String(),
		Path:       payload.Get("data.path").String(),
		Success:    payload.Get("success").Bool(),
		Message:    payload.Get("message").String(),
		Error:      payload.Get("error").String(),
		CreatedAt:  env.Time,
	}
	if err := r.store.Record(ctx, entry); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().
		Str("request_id", entry.RequestID).
		Str("tool", entry.Tool).
		Bool("success", entry.Success).
		Msg("audit entry recorded")
	return nil
}
