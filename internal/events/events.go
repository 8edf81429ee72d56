// Package events is the in-process event bus decoupling post-login work from
// the auth flow. It runs on watermill's Go channel pub/sub.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Topics.
const (
	TopicLoginCompleted = "auth.login_completed"
	TopicLoggedOut      = "auth.logged_out"
)

// LoginCompleted is published after a login or registration stored its token.
type LoginCompleted struct {
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// LoggedOut is published after local session state was cleared.
type LoggedOut struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Bus publishes JSON events to in-process subscribers.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// NewBus creates a bus. Events published before a subscriber exists are dropped.
func NewBus(log zerolog.Logger) *Bus {
	log = log.With().Str("component", "events").Logger()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, NewLogger(log)),
		log:    log,
	}
}

// Publish encodes v and publishes it on topic.
func (b *Bus) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.log.Debug().Str("topic", topic).Str("message_id", msg.UUID).Msg("event published")
	return nil
}

// Subscribe runs handler for every event on topic until ctx is done or the
// bus is closed. Handler errors are logged and the event is dropped.
func Subscribe[T any](ctx context.Context, b *Bus, topic string, handler func(ctx context.Context, ev T) error) error {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			var ev T
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("undecodable event dropped")
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), ev); err != nil {
				b.log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("event handler failed")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close stops delivery and waits for running handlers to return.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// zerologAdapter routes watermill's own logging through zerolog.
type zerologAdapter struct {
	log zerolog.Logger
}

// NewLogger adapts a zerolog logger to watermill.LoggerAdapter.
func NewLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return zerologAdapter{log: log}
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	// watermill logs every subscription at info; keep the CLI quiet.
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{log: a.log.With().Fields(map[string]any(fields)).Logger()}
}
