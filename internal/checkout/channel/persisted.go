package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

// SignalKey is the well-known persisted slot the challenge surface writes its
// result to when the direct path is unavailable.
const SignalKey = "payflow:payment_result"

// SignalStore is a persisted key with change notification. Values are written
// by the surface side and consumed exactly once by the host side.
type SignalStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// Watch invokes fn for every subsequent Set on key until the returned
	// stop function is called.
	Watch(key string, fn func(value string)) (stop func(), err error)
}

// MemorySignalStore is the in-proc store used in tests and single-node runs.
type MemorySignalStore struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[string]map[uint64]func(string)
	nextID   uint64
}

func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{
		values:   make(map[string]string),
		watchers: make(map[string]map[uint64]func(string)),
	}
}

func (s *MemorySignalStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	fns := make([]func(string), 0, len(s.watchers[key]))
	for _, fn := range s.watchers[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
	return nil
}

func (s *MemorySignalStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemorySignalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemorySignalStore) Watch(key string, fn func(string)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[uint64]func(string))
	}
	id := s.nextID
	s.nextID++
	s.watchers[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[key], id)
	}, nil
}

// RedisSignalStore persists signals in redis; change notification rides a
// companion pub/sub channel so watchers do not poll.
type RedisSignalStore struct {
	client *redis.Client
}

func NewRedisSignalStore(client *redis.Client) *RedisSignalStore {
	if client == nil {
		return nil
	}
	return &RedisSignalStore{client: client}
}

func (s *RedisSignalStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, key+":notify", value).Err()
}

func (s *RedisSignalStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisSignalStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisSignalStore) Watch(key string, fn func(string)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, key+":notify")
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

// PersistedChannel watches the well-known signal key and consumes a matching
// result exactly once.
type PersistedChannel struct {
	store SignalStore
}

func NewPersistedChannel(store SignalStore) *PersistedChannel {
	return &PersistedChannel{store: store}
}

func (c *PersistedChannel) Name() domain.ChannelSource { return domain.SourcePersisted }

type persistedSubscription struct {
	stop func()
	once sync.Once
}

func (c *PersistedChannel) Subscribe(orderNumber string, deliver func(domain.ResultMessage)) (Subscription, error) {
	if c.store == nil {
		return nil, errors.New("signal store not configured")
	}

	consume := func(raw string) {
		env, ok := domain.ParseEnvelope([]byte(raw))
		if !ok {
			return
		}
		msg, ok := env.Result(domain.SourcePersisted)
		if !ok {
			return
		}
		// The key is single-consumption: a recognized result is cleared even
		// when it belongs to an earlier, abandoned attempt. Payloads we do not
		// recognize stay untouched.
		_ = c.store.Delete(context.Background(), SignalKey)
		if msg.OrderNumber != orderNumber {
			return
		}
		deliver(msg)
	}

	stop, err := c.store.Watch(SignalKey, consume)
	if err != nil {
		return nil, err
	}

	// A signal may already be sitting in the store if the surface beat us to
	// it (reload, navigation race). Consume it on attach, off the caller's
	// goroutine so a subscriber holding a lock across Subscribe is safe.
	if raw, ok, err := c.store.Get(context.Background(), SignalKey); err == nil && ok {
		go consume(raw)
	}

	sub := &persistedSubscription{stop: stop}
	return sub, nil
}

func (s *persistedSubscription) Close() {
	s.once.Do(s.stop)
}
