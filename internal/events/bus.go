package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Topic carries every event published on the bus.
const Topic = "skillshub.events"

// Envelope is the bus message body.
type Envelope struct {
	RequestID string          `json:"requestId"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Time      time.Time       `json:"time"`
}

// Bus is an in-process pub/sub for events from all requests.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger(logger)),
	}
}

// Emitter returns an Emitter that publishes events tagged with requestID.
func (b *Bus) Emitter(requestID string) Emitter {
	return Func(func(ctx context.Context, ev Event) error {
		return b.Publish(requestID, ev)
	})
}

func (b *Bus) Publish(requestID string, ev Event) error {
	payload, err := ev.MarshalPayload()
	if err != nil {
		return errors.Wrap(err, "encode event payload")
	}
	body, err := json.Marshal(Envelope{
		RequestID: requestID,
		Type:      ev.Type,
		Payload:   payload,
		Time:      time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe delivers envelopes to handler until ctx is done. Handler
// errors are logged and the message is still acked.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, Envelope) error) error {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	logger := zerolog.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable bus message")
				msg.Ack()
				continue
			}
			if err := handler(ctx, env); err != nil {
				logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bus handler failed")
			}
			msg.Ack()
		}
	}
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info maps to debug; watermill is chatty.
func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
