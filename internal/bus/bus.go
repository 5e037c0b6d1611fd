// Package bus carries utterances in and action payloads out over named
// topics. Topics are plain strings; payloads are plain text.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pupper/internal/config"
)

// Default topic names.
const (
	DefaultInboundTopic  = "user_query_topic"
	DefaultOutboundTopic = "gpt4_response_topic"
	DefaultFailureTopic  = "pupper_failure_topic"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is one delivery on a topic.
type Message struct {
	Topic      string
	Payload    string
	ReceivedAt time.Time
}

// Publisher sends payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// Subscriber delivers a topic's messages in arrival order until ctx is done
// or the bus closes, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
}

// Bus is a full transport.
type Bus interface {
	Publisher
	Subscriber
	HealthCheck(ctx context.Context) error
	Close() error
}

// NewFromConfig opens the transport selected by cfg.Driver.
func NewFromConfig(cfg config.BusConfig) (Bus, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryBus(), nil
	case "redis", "":
		return NewRedisBus(RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported bus driver: %s", cfg.Driver)
	}
}
