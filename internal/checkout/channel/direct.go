package channel

import (
	"net/url"
	"strings"
	"sync"

	"github.com/smallbiznis/payflow/internal/checkout/domain"
)

// OriginAllowList validates senders on the direct channel. The challenge
// surface may post from its own origin, from a gateway sandbox domain, or
// from an opaque "null" origin when the content was delivered as a blob or
// data URI.
type OriginAllowList struct {
	origins map[string]struct{}
}

func NewOriginAllowList(origins ...string) *OriginAllowList {
	list := &OriginAllowList{origins: make(map[string]struct{})}
	list.origins["null"] = struct{}{}
	for _, origin := range origins {
		if normalized := normalizeOrigin(origin); normalized != "" {
			list.origins[normalized] = struct{}{}
		}
	}
	return list
}

func (l *OriginAllowList) Allowed(origin string) bool {
	if l == nil {
		return false
	}
	normalized := normalizeOrigin(origin)
	if normalized == "" {
		return false
	}
	_, ok := l.origins[normalized]
	return ok
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(strings.ToLower(origin))
	if origin == "" {
		return ""
	}
	if origin == "null" {
		return "null"
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// DirectChannel is the primary path: envelopes posted straight from the
// challenge surface, validated against the origin allow-list and fanned out
// through the in-proc hub.
type DirectChannel struct {
	hub     *Hub
	origins *OriginAllowList
}

func NewDirectChannel(hub *Hub, origins *OriginAllowList) *DirectChannel {
	return &DirectChannel{hub: hub, origins: origins}
}

func (c *DirectChannel) Name() domain.ChannelSource { return domain.SourceDirect }

// Ingest accepts an envelope from the HTTP callback ingress. Messages from
// unknown origins or without our source tag are dropped silently; they are
// noise, not errors.
func (c *DirectChannel) Ingest(origin string, env domain.Envelope) {
	if !c.origins.Allowed(origin) {
		return
	}
	if !env.Recognized() {
		return
	}
	c.hub.Publish(env.OrderNumber, env)
}

type directSubscription struct {
	sub  *HubSubscription
	once sync.Once
	done chan struct{}
}

func (c *DirectChannel) Subscribe(orderNumber string, deliver func(domain.ResultMessage)) (Subscription, error) {
	sub, buffered, err := c.hub.Subscribe(orderNumber)
	if err != nil {
		return nil, err
	}

	out := &directSubscription{sub: sub, done: make(chan struct{})}

	forward := func(env domain.Envelope) {
		if msg, ok := env.Result(domain.SourceDirect); ok {
			deliver(msg)
		}
	}

	// Buffered envelopes replay on the same goroutine as live ones so a
	// subscriber holding its own lock across Subscribe is never re-entered.
	go func() {
		for _, env := range buffered {
			forward(env)
		}
		for {
			select {
			case env, ok := <-sub.Events():
				if !ok {
					return
				}
				forward(env)
			case <-out.done:
				return
			}
		}
	}()

	return out, nil
}

func (s *directSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Close()
	})
}
