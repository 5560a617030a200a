package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyCallbackIP = "checkout:callback:ip:"
	keySubmitIP   = "checkout:submit:ip:"

	// Callback bursts are normal during a challenge (the surface posts
	// progress plus the result); submissions are human-paced.
	callbackRate  = 10.0
	callbackBurst = 30
	submitRate    = 0.2
	submitBurst   = 5
)

// CallbackLimiter throttles the unauthenticated checkout endpoints per client
// IP. With Redis it is shared across replicas; without, each replica keeps a
// local bucket.
type CallbackLimiter struct {
	bucket *TokenBucket
	local  *localBuckets
}

func NewCallbackLimiter(client *redis.Client) *CallbackLimiter {
	if client != nil {
		return &CallbackLimiter{bucket: NewTokenBucket(client)}
	}
	return &CallbackLimiter{local: newLocalBuckets()}
}

func (l *CallbackLimiter) AllowCallback(ctx context.Context, ip string) bool {
	return l.allow(ctx, keyCallbackIP+ip, callbackRate, callbackBurst)
}

func (l *CallbackLimiter) AllowSubmit(ctx context.Context, ip string) bool {
	return l.allow(ctx, keySubmitIP+ip, submitRate, submitBurst)
}

func (l *CallbackLimiter) allow(ctx context.Context, key string, rate float64, burst int) bool {
	if l == nil {
		return true
	}
	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, key, rate, burst)
		if err != nil {
			// Limiter outage must not take checkout down with it.
			return true
		}
		return res.Allowed
	}
	return l.local.allow(key, rate, burst)
}

type localBucket struct {
	tokens float64
	last   time.Time
}

type localBuckets struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
}

func newLocalBuckets() *localBuckets {
	return &localBuckets{buckets: make(map[string]*localBucket)}
}

func (b *localBuckets) allow(key string, rate float64, burst int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &localBucket{tokens: float64(burst), last: now}
		b.buckets[key] = bucket
	} else {
		elapsed := now.Sub(bucket.last).Seconds()
		if elapsed > 0 {
			bucket.tokens = min(float64(burst), bucket.tokens+elapsed*rate)
			bucket.last = now
		}
	}

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}
