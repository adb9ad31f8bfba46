package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// memoryQueueSize bounds each subscription's backlog; overflow is dropped.
const memoryQueueSize = 1024

// MemoryBus is an in-process Bus with the same at-most-once semantics as
// RedisBus. It backs tests and single-process tooling.
type MemoryBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		logger: logger.With(zap.String("component", "bus")),
		topics: make(map[string]map[*memorySubscription]struct{}),
	}
}

type memoryDelivery struct {
	topic   string
	payload []byte
}

type memorySubscription struct {
	topic  string
	queue  chan memoryDelivery
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	bus    *MemoryBus
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	cp := append([]byte(nil), payload...)
	for s := range b.topics[topic] {
		select {
		case s.queue <- memoryDelivery{topic: topic, payload: cp}:
		default:
			b.logger.Warn("subscriber backlog full, dropping message", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers h for topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &memorySubscription{
		topic:  topic,
		queue:  make(chan memoryDelivery, memoryQueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscription]struct{})
	}
	b.topics[topic][s] = struct{}{}

	go s.run(ctx, h, b.logger)
	return s, nil
}

// Ping always succeeds while the bus is open.
func (b *MemoryBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*memorySubscription
	for _, set := range b.topics {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

// Subscribers returns how many live subscriptions topic has.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (s *memorySubscription) Topic() string { return s.topic }

func (s *memorySubscription) Done() <-chan struct{} { return s.done }

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set := s.bus.topics[s.topic]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.topics, s.topic)
			}
		}
		s.bus.mu.Unlock()
		s.cancel()
	})
	<-s.done
	return nil
}

func (s *memorySubscription) run(ctx context.Context, h Handler, logger *zap.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			dispatch(ctx, h, d.topic, d.payload, logger)
		}
	}
}
