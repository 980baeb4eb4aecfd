package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBusDeliversEnvelopes(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 4)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- bus.Subscribe(ctx, func(_ context.Context, env Envelope) error {
			select {
			case received <- env:
			default:
			}
			return nil
		})
	}()

	emitter := bus.Emitter("req-1")
	// the subscription is registered asynchronously; publish until it lands
	deadline := time.After(5 * time.Second)
	var env Envelope
	for got := false; !got; {
		require.NoError(t, emitter.Emit(ctx, ToolCallEvent("t1", "read_file", []byte(`{"path":"a"}`), StatusApproved)))
		select {
		case env = <-received:
			got = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no envelope received")
		}
	}

	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, TypeToolCall, env.Type)
	assert.Equal(t, "a", gjson.GetBytes(env.Payload, "params.path").String())
	assert.False(t, env.Time.IsZero())

	cancel()
	select {
	case err := <-subscribed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
