package channel

import (
	"testing"
	"time"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/stretchr/testify/assert"
)

func TestPolledSlotChannel_DeliversAndClearsSlot(t *testing.T) {
	store := NewMemorySlotStore()
	ch := NewPolledSlotChannel(store, 5*time.Millisecond)

	results, sub := collectResults(t, ch, "SIP-1")
	defer sub.Close()

	WriteResult(store, domain.ResultMessage{
		Success:     true,
		OrderNumber: "SIP-1",
		PaymentID:   "PAY-9",
	})

	select {
	case msg := <-results:
		assert.Equal(t, domain.SourcePolledSlot, msg.Channel)
		assert.Equal(t, "PAY-9", msg.PaymentID)
	case <-time.After(time.Second):
		t.Fatal("slot result was not picked up")
	}

	assert.Eventually(t, func() bool {
		_, ok := store.Load(SlotKey)
		return !ok
	}, time.Second, 5*time.Millisecond, "consumed slot must be cleared")
}

func TestPolledSlotChannel_IgnoresNonSentinelContent(t *testing.T) {
	store := NewMemorySlotStore()
	store.Store(SlotKey, "some unrelated state another component parked here")

	ch := NewPolledSlotChannel(store, 5*time.Millisecond)
	results, sub := collectResults(t, ch, "SIP-1")
	defer sub.Close()

	select {
	case msg := <-results:
		t.Fatalf("non-sentinel slot content surfaced as a result: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	value, ok := store.Load(SlotKey)
	assert.True(t, ok, "foreign slot content must be left untouched")
	assert.Equal(t, "some unrelated state another component parked here", value)
}

func TestPolledSlotChannel_StopsAfterClose(t *testing.T) {
	store := NewMemorySlotStore()
	ch := NewPolledSlotChannel(store, 5*time.Millisecond)

	results, sub := collectResults(t, ch, "SIP-1")
	sub.Close()
	sub.Close()

	WriteResult(store, domain.ResultMessage{Success: true, OrderNumber: "SIP-1"})

	select {
	case msg := <-results:
		t.Fatalf("closed subscription still delivered: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMux_SkipsUnavailableChannels(t *testing.T) {
	hub := NewHub()
	direct := NewDirectChannel(hub, NewOriginAllowList("https://shop.example.com"))
	broken := NewPersistedChannel(nil)

	mux := NewMux(nil, nil, broken, direct)
	results := make(chan domain.ResultMessage, 4)
	sub := mux.Subscribe("SIP-1", func(msg domain.ResultMessage) { results <- msg })
	defer sub.Close()

	direct.Ingest("https://shop.example.com", resultEnvelope("SIP-1", true))

	select {
	case msg := <-results:
		assert.Equal(t, domain.SourceDirect, msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("surviving channel did not deliver")
	}
}

func TestMux_EveryChannelDeliversItsCopy(t *testing.T) {
	hub := NewHub()
	direct := NewDirectChannel(hub, NewOriginAllowList("https://shop.example.com"))
	slots := NewMemorySlotStore()
	polled := NewPolledSlotChannel(slots, 5*time.Millisecond)

	mux := NewMux(nil, nil, direct, polled)
	results := make(chan domain.ResultMessage, 4)
	sub := mux.Subscribe("SIP-1", func(msg domain.ResultMessage) { results <- msg })
	defer sub.Close()

	direct.Ingest("https://shop.example.com", resultEnvelope("SIP-1", true))
	WriteResult(slots, domain.ResultMessage{Success: true, OrderNumber: "SIP-1", PaymentID: "PAY-9"})

	// The mux does not deduplicate; that is the session's job. Both transports
	// hand over their copy.
	seen := map[domain.ChannelSource]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case msg := <-results:
			seen[msg.Channel] = true
		case <-timeout:
			t.Fatalf("expected copies from both channels, saw %v", seen)
		}
	}
	assert.True(t, seen[domain.SourceDirect])
	assert.True(t, seen[domain.SourcePolledSlot])
}
