package channel

import (
	"context"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/zap"
)

// ResultChannel is one transport that may deliver the terminal payment result.
// No single channel is guaranteed to work; the Mux runs all of them and only
// message identity matters downstream.
type ResultChannel interface {
	Name() domain.ChannelSource
	Subscribe(orderNumber string, deliver func(domain.ResultMessage)) (Subscription, error)
}

// Subscription detaches a channel's listeners and timers. Close is idempotent.
type Subscription interface {
	Close()
}

// Mux fans every configured channel into a single onResult callback. A channel
// that fails to subscribe is skipped silently: the redundancy of the remaining
// channels is the recovery mechanism, and the manual status check covers total
// failure.
type Mux struct {
	channels []ResultChannel
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewMux(log *zap.Logger, metrics *obsmetrics.Metrics, channels ...ResultChannel) *Mux {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mux{
		channels: channels,
		log:      log.Named("checkout.channel"),
		metrics:  metrics,
	}
}

type MuxSubscription struct {
	subs []Subscription
}

func (m *Mux) Subscribe(orderNumber string, onResult func(domain.ResultMessage)) *MuxSubscription {
	out := &MuxSubscription{}
	for _, ch := range m.channels {
		name := ch.Name()
		deliver := func(msg domain.ResultMessage) {
			if m.metrics != nil {
				m.metrics.RecordPaymentResult(context.Background(), string(msg.Channel), outcome(msg.Success))
			}
			onResult(msg)
		}
		sub, err := ch.Subscribe(orderNumber, deliver)
		if err != nil {
			m.log.Debug("result channel unavailable",
				zap.String("channel", string(name)),
				zap.String("order_number", orderNumber),
				zap.Error(err),
			)
			continue
		}
		out.subs = append(out.subs, sub)
	}
	return out
}

func (s *MuxSubscription) Close() {
	if s == nil {
		return
	}
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
