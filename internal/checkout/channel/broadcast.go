package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

// BroadcastChannelName is the fixed pub/sub topic for out-of-band result
// delivery.
const BroadcastChannelName = "payflow.payment-results"

// Broadcaster is an out-of-band pub/sub transport. It may legitimately be
// absent; the channel then reports itself unsupported and the mux moves on.
type Broadcaster interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(topic string, fn func(payload string)) (stop func(), err error)
}

// MemoryBroadcaster is the in-proc pub/sub used in tests and single-node runs.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]func(string)
	nextID uint64
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[string]map[uint64]func(string))}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	fns := make([]func(string), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(topic string, fn func(string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func(string))
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}, nil
}

// RedisBroadcaster bridges the broadcast channel across processes.
type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	if client == nil {
		return nil
	}
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic, payload string) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroadcaster) Subscribe(topic string, fn func(string)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			fn(msg.Payload)
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// BroadcastChannel listens on the fixed topic for result envelopes.
type BroadcastChannel struct {
	broadcaster Broadcaster
}

func NewBroadcastChannel(broadcaster Broadcaster) *BroadcastChannel {
	return &BroadcastChannel{broadcaster: broadcaster}
}

func (c *BroadcastChannel) Name() domain.ChannelSource { return domain.SourceBroadcast }

type broadcastSubscription struct {
	stop func()
	once sync.Once
}

func (c *BroadcastChannel) Subscribe(orderNumber string, deliver func(domain.ResultMessage)) (Subscription, error) {
	if c.broadcaster == nil {
		return nil, errors.New("broadcast transport not available")
	}

	stop, err := c.broadcaster.Subscribe(BroadcastChannelName, func(payload string) {
		env, ok := domain.ParseEnvelope([]byte(payload))
		if !ok {
			return
		}
		msg, ok := env.Result(domain.SourceBroadcast)
		if !ok || msg.OrderNumber != orderNumber {
			return
		}
		deliver(msg)
	})
	if err != nil {
		return nil, err
	}

	return &broadcastSubscription{stop: stop}, nil
}

func (s *broadcastSubscription) Close() {
	s.once.Do(s.stop)
}
