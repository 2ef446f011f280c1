// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package events

import (
	"fmt"
	"time"
)

// Transports.
const (
	TransportChannel = "gochannel"
	TransportNATS    = "nats"
)

// Config configures the event bus.
type Config struct {
	// Enabled turns publishing and the invalidation consumer on.
	Enabled bool `koanf:"enabled"`

	// Transport is "gochannel" (in process) or "nats".
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`

	// Topic carries interaction.recorded events.
	Topic string `koanf:"topic" validate:"required"`

	// CloseTimeout bounds the router shutdown.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// Retry configuration of the consumer.
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig holds NATS JetStream configuration.
type NATSConfig struct {
	// URL is the NATS server connection URL. Ignored when Embedded.
	URL string `koanf:"url"`

	// JetStream publishes to a stream instead of core NATS.
	JetStream bool `koanf:"jetstream"`

	// Embedded starts an in-process NATS server.
	Embedded bool `koanf:"embedded"`

	// Server configures the embedded server.
	Server ServerConfig `koanf:"server"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	AckWait       time.Duration `koanf:"ack_wait"`
}

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	StoreDir          string `koanf:"store_dir"`
	JetStreamMaxMem   int64  `koanf:"max_memory"`
	JetStreamMaxStore int64  `koanf:"max_store"`
}

// DefaultConfig returns production defaults: in-process delivery.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Transport:            TransportChannel,
		Topic:                "lodestar.interactions",
		CloseTimeout:         10 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			JetStream:     true,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			AckWait:       30 * time.Second,
			Server: ServerConfig{
				Host:              "127.0.0.1",
				Port:              4222,
				StoreDir:          "/data/nats/jetstream",
				JetStreamMaxMem:   256 << 20,
				JetStreamMaxStore: 1 << 30,
			},
		},
	}
}

// Validate checks the transport selection.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Transport {
	case TransportChannel, TransportNATS:
	default:
		return fmt.Errorf("events: unknown transport %q", c.Transport)
	}
	if c.Topic == "" {
		return fmt.Errorf("events: topic is required")
	}
	if c.Transport == TransportNATS && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("events: nats.url is required without an embedded server")
	}
	return nil
}
