// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package events publishes write-path events and consumes them.
//
// The recorder publishes interaction.recorded after every committed
// interaction. Consumers run on a watermill router with panic recovery and
// retry middleware. The transport is an in-process gochannel by default
// and NATS (optionally JetStream, optionally an embedded server) when
// several instances must see each other's writes, e.g. to invalidate
// their rank caches.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("events: bus is closed")

// Handler consumes one interaction.recorded event.
type Handler func(ctx context.Context, ev InteractionRecorded) error

// Bus owns the publisher, the subscriber and the consumer router.
type Bus struct {
	cfg       Config
	logger    zerolog.Logger
	wmLogger  watermill.LoggerAdapter
	publisher message.Publisher
	sub       message.Subscriber
	router    *message.Router
	server    *EmbeddedServer
	ids       *idSource

	mu     sync.RWMutex
	closed bool
}

var _ personalize.EventPublisher = (*Bus)(nil)

// New connects the transport and prepares the router. Handlers must be
// registered with Handle before Serve.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		cfg:    cfg,
		logger: logger.With().Str("component", "events").Str("transport", cfg.Transport).Logger(),
		ids:    newIDSource(),
	}
	b.wmLogger = NewLoggerAdapter(b.logger)

	var err error
	switch cfg.Transport {
	case TransportNATS:
		err = b.connectNATS()
	default:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, b.wmLogger)
		b.publisher, b.sub = ch, ch
	}
	if err != nil {
		b.shutdownServer()
		return nil, err
	}

	b.router, err = message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, b.wmLogger)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	b.router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     10 * cfg.RetryInitialInterval,
			Multiplier:      2,
			Logger:          b.wmLogger,
		}.Middleware,
	)
	return b, nil
}

// connectNATS starts the embedded server when configured and creates the
// NATS publisher and subscriber.
func (b *Bus) connectNATS() error {
	url := b.cfg.NATS.URL
	if b.cfg.NATS.Embedded {
		srv, err := NewEmbeddedServer(b.cfg.NATS.Server)
		if err != nil {
			return err
		}
		b.server = srv
		url = srv.ClientURL()
		b.logger.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(b.cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(b.cfg.NATS.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	jetStream := wmNats.JetStreamConfig{
		Disabled:      !b.cfg.NATS.JetStream,
		AutoProvision: true,
		TrackMsgId:    true,
		SubscribeOptions: []natsgo.SubOpt{
			natsgo.DeliverNew(),
			natsgo.AckWait(b.cfg.NATS.AckWait),
		},
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   jetStream,
	}, b.wmLogger)
	if err != nil {
		return fmt.Errorf("create watermill publisher: %w", err)
	}

	// No queue group: every instance receives every event.
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   b.cfg.NATS.AckWait,
		CloseTimeout:     b.cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        jetStream,
	}, b.wmLogger)
	if err != nil {
		_ = pub.Close()
		return fmt.Errorf("create watermill subscriber: %w", err)
	}
	b.publisher, b.sub = pub, sub
	return nil
}

// PublishInteractionRecorded publishes a committed interaction.
func (b *Bus) PublishInteractionRecorded(ctx context.Context, ev personalize.RecordedEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	wire := fromRecorded(b.ids.next(at), ev)
	payload, err := encode(wire)
	if err != nil {
		metrics.RecordEventPublish(b.cfg.Topic, err)
		return err
	}

	msg := message.NewMessage(wire.ID, payload)
	msg.Metadata.Set("event_type", TypeInteractionRecorded)
	msg.Metadata.Set("tenant", wire.Tenant)
	msg.Metadata.Set(natsgo.MsgIdHdr, wire.ID)
	msg.SetContext(ctx)

	err = b.publisher.Publish(b.cfg.Topic, msg)
	metrics.RecordEventPublish(b.cfg.Topic, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", wire.ID, err)
	}
	return nil
}

// Handle registers a consumer of interaction.recorded events. Undecodable
// messages are logged and acknowledged; handler errors are retried by the
// router middleware.
func (b *Bus) Handle(name string, h Handler) {
	b.router.AddConsumerHandler(name, b.cfg.Topic, b.sub, func(msg *message.Message) error {
		ev, err := decode(msg.Payload)
		if err != nil {
			b.logger.Warn().Err(err).Str("handler", name).Str("message_id", msg.UUID).Msg("Dropping malformed event")
			metrics.RecordEventConsume(b.cfg.Topic, err)
			return nil
		}
		err = h(msg.Context(), ev)
		metrics.RecordEventConsume(b.cfg.Topic, err)
		return err
	})
}

// Serve runs the consumer router until ctx is cancelled.
func (b *Bus) Serve(ctx context.Context) error {
	if err := b.router.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event router: %w", err)
	}
	return ctx.Err()
}

// Running is closed once the router consumes.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// String names the bus for supervisor logs.
func (b *Bus) String() string {
	return "event-bus"
}

// Close stops the router and the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if b.router != nil {
		if err := b.router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close router: %w", err))
		}
	}
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	// gochannel serves both sides; closing it twice is harmless.
	if b.sub != nil {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	b.shutdownServer()
	return errors.Join(errs...)
}

func (b *Bus) shutdownServer() {
	if b.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("Embedded NATS server shutdown")
	}
}
