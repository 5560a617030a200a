package draft

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

// Store keeps the shipping/contact data entered before payment so a failed
// attempt can return to the payment step without discarding it.
type Store interface {
	Save(ctx context.Context, draft domain.CheckoutDraft) error
	Get(ctx context.Context, clientID string) (*domain.CheckoutDraft, error)
	Delete(ctx context.Context, clientID string) error
}

type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]domain.CheckoutDraft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]domain.CheckoutDraft)}
}

func (s *MemoryStore) Save(_ context.Context, draft domain.CheckoutDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draft.ClientID] = draft
	return nil
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (*domain.CheckoutDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[clientID]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (s *MemoryStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, clientID)
	return nil
}

const redisKeyPrefix = "payflow:checkout_draft:"

// RedisStore persists drafts across instances with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client, ttl: 24 * time.Hour}
}

func (s *RedisStore) Save(ctx context.Context, draft domain.CheckoutDraft) error {
	draft.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+draft.ClientID, raw, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (*domain.CheckoutDraft, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+clientID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var draft domain.CheckoutDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *RedisStore) Delete(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, redisKeyPrefix+clientID).Err()
}
