package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pupper/internal/logging"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisBus maps topics onto Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(config RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logging.Bus("connected to Redis bus addr=%s db=%d", config.Addr, config.DB)
	return NewRedisBusFromClient(client), nil
}

// NewRedisBusFromClient wraps an existing client. The bus owns it from now on.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, topic, payload string) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", topic, err)
	}
	logging.BusDebug("published topic=%s len=%d", topic, len(payload))
	return nil
}

// Subscribe implements Subscriber. It returns once the subscription is
// confirmed by the server, so no message published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe to %s failed: %w", topic, err)
	}
	logging.Bus("subscribed topic=%s", topic)

	in := ps.Channel()
	out := make(chan Message)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					logging.BusWarn("subscription closed topic=%s", topic)
					return
				}
				msg := Message{Topic: m.Channel, Payload: m.Payload, ReceivedAt: time.Now()}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// HealthCheck pings Redis.
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis client and with it every subscription.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
