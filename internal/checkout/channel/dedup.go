package channel

import (
	"sync"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

// Deduplicator collapses retransmitted result notifications into one logical
// event per identity. It is scoped to a single payment attempt and must be
// Reset when a new attempt begins.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Accept reports whether this is the first time the message's identity has
// been seen. It must be consulted before any side-effecting action.
func (d *Deduplicator) Accept(msg domain.ResultMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity := msg.Identity()
	if _, dup := d.seen[identity]; dup {
		return false
	}
	d.seen[identity] = struct{}{}
	return true
}

func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}
