package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pupper/internal/config"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func requireClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t", "first"))
	require.NoError(t, b.Publish(ctx, "t", "second"))

	for _, ch := range []<-chan Message{a, c} {
		assert.Equal(t, "first", receive(t, ch).Payload)
		m := receive(t, ch)
		assert.Equal(t, "second", m.Payload)
		assert.Equal(t, "t", m.Topic)
		assert.False(t, m.ReceivedAt.IsZero())
	}

	select {
	case m := <-other:
		t.Fatalf("unexpected message on other topic: %v", m)
	default:
	}

	assert.Equal(t, []string{"first", "second"}, b.History("t"))

	cancel()
	requireClosed(t, a)
	requireClosed(t, c)
	requireClosed(t, other)
}

func TestMemoryBus_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	ch, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, b.HealthCheck(context.Background()))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	requireClosed(t, ch)
	assert.ErrorIs(t, b.Publish(context.Background(), "t", "x"), ErrClosed)
	_, err = b.Subscribe(context.Background(), "t")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.HealthCheck(context.Background()), ErrClosed)
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), "nobody", "hello"))
	assert.Equal(t, []string{"hello"}, b.History("nobody"))
}

func TestIngest_AssignsSequence(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reqs, err := Ingest(ctx, b, DefaultInboundTopic)
	require.NoError(t, err)

	go func() {
		for _, u := range []string{"sit", "stand", "bark"} {
			_ = b.Publish(ctx, DefaultInboundTopic, u)
		}
	}()

	ids := map[string]bool{}
	for i, want := range []string{"sit", "stand", "bark"} {
		select {
		case r := <-reqs:
			assert.Equal(t, uint64(i+1), r.Seq)
			assert.Equal(t, want, r.Utterance)
			assert.NotEmpty(t, r.ID)
			ids[r.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Len(t, ids, 3)

	cancel()
	requireClosed(t, reqs)
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBusFromClient(client)
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	_, b := setupMiniRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, DefaultOutboundTopic)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, DefaultOutboundTopic, "[move, sit]"))
	require.NoError(t, b.Publish(ctx, DefaultOutboundTopic, "[bark]"))

	m := receive(t, ch)
	assert.Equal(t, DefaultOutboundTopic, m.Topic)
	assert.Equal(t, "[move, sit]", m.Payload)
	assert.Equal(t, "[bark]", receive(t, ch).Payload)

	cancel()
	requireClosed(t, ch)
}

func TestRedisBus_HealthCheck(t *testing.T) {
	mr, b := setupMiniRedis(t)

	require.NoError(t, b.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, b.HealthCheck(context.Background()))
}

func TestNewRedisBus_ConnectionFailure(t *testing.T) {
	_, err := NewRedisBus(RedisConfig{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "redis connection failed")
}

func TestNewRedisBus_Connects(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	b, err := NewFromConfig(config.BusConfig{Driver: "redis", Addr: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &RedisBus{}, b)
}

func TestNewFromConfig(t *testing.T) {
	b, err := NewFromConfig(config.BusConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBus{}, b)
	require.NoError(t, b.Close())

	_, err = NewFromConfig(config.BusConfig{Driver: "kafka"})
	assert.Error(t, err)
}
