package channel

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

func encodeEnvelope(env domain.Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

const (
	// SlotKey is the shared cross-context string slot, the last-resort path.
	SlotKey = "payflow.slot"

	// slotSentinel prefixes a result payload so ordinary slot contents are
	// never misread as one.
	slotSentinel = "payflow.result:"

	DefaultSlotPollInterval = 500 * time.Millisecond
)

// SlotStore is a single shared string visible to both the surface side and
// the host side.
type SlotStore interface {
	Load(key string) (string, bool)
	Store(key, value string)
	Clear(key string)
}

type MemorySlotStore struct {
	mu    sync.Mutex
	slots map[string]string
}

func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[string]string)}
}

func (s *MemorySlotStore) Load(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.slots[key]
	return value, ok
}

func (s *MemorySlotStore) Store(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = value
}

func (s *MemorySlotStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
}

// WriteResult stores msg into the slot in sentinel-prefixed wire form, the
// way the surface side publishes through this path.
func WriteResult(store SlotStore, msg domain.ResultMessage) {
	raw, err := encodeEnvelope(msg.Envelope())
	if err != nil {
		return
	}
	store.Store(SlotKey, slotSentinel+raw)
}

// PolledSlotChannel polls the shared slot twice a second for a
// sentinel-prefixed payload, clears it on consumption, and stops polling once
// consumed.
type PolledSlotChannel struct {
	store    SlotStore
	interval time.Duration
}

func NewPolledSlotChannel(store SlotStore, interval time.Duration) *PolledSlotChannel {
	if interval <= 0 {
		interval = DefaultSlotPollInterval
	}
	return &PolledSlotChannel{store: store, interval: interval}
}

func (c *PolledSlotChannel) Name() domain.ChannelSource { return domain.SourcePolledSlot }

type slotSubscription struct {
	done chan struct{}
	once sync.Once
}

func (c *PolledSlotChannel) Subscribe(orderNumber string, deliver func(domain.ResultMessage)) (Subscription, error) {
	if c.store == nil {
		return nil, errors.New("slot store not configured")
	}

	sub := &slotSubscription{done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sub.done:
				return
			case <-ticker.C:
				value, ok := c.store.Load(SlotKey)
				if !ok || !strings.HasPrefix(value, slotSentinel) {
					continue
				}
				env, parsed := domain.ParseEnvelope([]byte(strings.TrimPrefix(value, slotSentinel)))
				if !parsed {
					continue
				}
				msg, isResult := env.Result(domain.SourcePolledSlot)
				if !isResult || msg.OrderNumber != orderNumber {
					continue
				}
				c.store.Clear(SlotKey)
				deliver(msg)
				return
			}
		}
	}()

	return sub, nil
}

func (s *slotSubscription) Close() {
	s.once.Do(func() { close(s.done) })
}
