package bus

import (
	"context"
	"sync"
	"time"
)

const memoryBufferSize = 64

type memorySub struct {
	in   chan Message
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// pump forwards in -> out and owns closing out.
func (s *memorySub) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m := <-s.in:
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
	}
}

// MemoryBus is an in-process fan-out bus. Every subscriber of a topic sees
// every message published after it subscribed.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	history map[string][]string
	closed  bool
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[string]map[*memorySub]struct{}),
		history: make(map[string][]string),
	}
}

// Subscribe implements Subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySub{
		in:   make(chan Message, memoryBufferSize),
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][s] = struct{}{}

	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		b.unsubscribe(topic, s)
	}()
	return s.out, nil
}

func (b *MemoryBus) unsubscribe(topic string, s *memorySub) {
	s.stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], s)
}

// Publish implements Publisher. It blocks while a subscriber's buffer is
// full, until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic, payload string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.history[topic] = append(b.history[topic], payload)
	targets := make([]*memorySub, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Payload: payload, ReceivedAt: time.Now()}
	for _, s := range targets {
		select {
		case s.in <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// History returns every payload published on topic, in order.
func (b *MemoryBus) History(topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.history[topic]))
	copy(out, b.history[topic])
	return out
}

// HealthCheck implements Bus.
func (b *MemoryBus) HealthCheck(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	return nil
}
