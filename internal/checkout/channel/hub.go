package channel

import (
	"errors"
	"strings"
	"sync"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

const (
	DefaultBufferSize       = 16
	DefaultSubscriberBuffer = 8
)

// Hub is the in-proc fan-out for envelopes arriving from the challenge
// surface, keyed by order number. A short replay buffer covers the race where
// the surface posts a result before the host has attached its listener.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []domain.Envelope
	subs   map[uint64]chan domain.Envelope
	nextID uint64
}

type HubSubscription struct {
	hub         *Hub
	orderNumber string
	id          uint64
	ch          chan domain.Envelope
	once        sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(orderNumber string, env domain.Envelope) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(orderNumber)
	if key == "" {
		return
	}

	st := h.ensureStream(key)
	st.mu.Lock()
	st.buffer = append(st.buffer, env)
	if len(st.buffer) > h.bufferSize {
		st.buffer = st.buffer[len(st.buffer)-h.bufferSize:]
	}
	subs := make([]chan domain.Envelope, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- env:
		default:
		}
	}
}

// Subscribe attaches to the stream for orderNumber and returns any buffered
// envelopes published before the subscription existed.
func (h *Hub) Subscribe(orderNumber string) (*HubSubscription, []domain.Envelope, error) {
	if h == nil {
		return nil, nil, errors.New("hub unavailable")
	}
	key := strings.TrimSpace(orderNumber)
	if key == "" {
		return nil, nil, errors.New("invalid order number")
	}

	st := h.ensureStream(key)
	st.mu.Lock()
	if st.subs == nil {
		st.subs = make(map[uint64]chan domain.Envelope)
	}
	id := st.nextID
	st.nextID++
	ch := make(chan domain.Envelope, h.subscriberBuffer)
	st.subs[id] = ch
	buffered := append([]domain.Envelope(nil), st.buffer...)
	st.mu.Unlock()

	return &HubSubscription{
		hub:         h,
		orderNumber: key,
		id:          id,
		ch:          ch,
	}, buffered, nil
}

func (h *Hub) ensureStream(orderNumber string) *stream {
	h.mu.RLock()
	current := h.streams[orderNumber]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[orderNumber]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan domain.Envelope)}
		h.streams[orderNumber] = current
	}
	return current
}

func (h *Hub) unsubscribe(orderNumber string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	st := h.streams[orderNumber]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	if ch, ok := st.subs[id]; ok {
		delete(st.subs, id)
		close(ch)
	}
	remaining := len(st.subs)
	st.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[orderNumber]
	if current == st {
		st.mu.Lock()
		if len(st.subs) == 0 {
			delete(h.streams, orderNumber)
		}
		st.mu.Unlock()
	}
	h.mu.Unlock()
}

func (s *HubSubscription) Events() <-chan domain.Envelope {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *HubSubscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.orderNumber, s.id)
	})
}
