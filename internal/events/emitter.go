package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Emitter delivers events to a consumer. An error means the consumer is
// gone and the run should stop.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, ev Event) error

func (f Func) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// SetSSEHeaders prepares a response for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEWriter writes each event as `event: <type>` / `data: <json>` and
// flushes it immediately.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) Emit(ctx context.Context, ev Event) error {
	data, err := ev.MarshalPayload()
	if err != nil {
		return errors.Wrapf(err, "encode %s event", ev.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return errors.Wrap(err, "write event")
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Collector buffers events in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the collected event types in order.
func (c *Collector) Types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

// Multi fans out events. The primary emitter's error is returned; errors
// from the others are logged and ignored.
type Multi struct {
	primary   Emitter
	secondary []Emitter
}

func NewMulti(primary Emitter, secondary ...Emitter) *Multi {
	return &Multi{primary: primary, secondary: secondary}
}

func (m *Multi) Emit(ctx context.Context, ev Event) error {
	if err := m.primary.Emit(ctx, ev); err != nil {
		return err
	}
	for _, e := range m.secondary {
		if err := e.Emit(ctx, ev); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(ev.Type)).Msg("secondary emitter failed")
		}
	}
	return nil
}
