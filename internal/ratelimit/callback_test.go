package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalBucketsBurstAndDeny(t *testing.T) {
	buckets := newLocalBuckets()

	// The full burst is available up front, then the bucket runs dry.
	for i := 0; i < 5; i++ {
		assert.True(t, buckets.allow("ip:1", 0.2, 5), "request %d", i)
	}
	assert.False(t, buckets.allow("ip:1", 0.2, 5))

	// Other keys are unaffected.
	assert.True(t, buckets.allow("ip:2", 0.2, 5))
}

func TestLocalBucketsRefill(t *testing.T) {
	buckets := newLocalBuckets()

	// Drain a fast bucket, then wait for roughly one token to come back.
	for i := 0; i < 3; i++ {
		assert.True(t, buckets.allow("ip:1", 50, 3))
	}
	assert.False(t, buckets.allow("ip:1", 50, 3))

	assert.Eventually(t, func() bool {
		return buckets.allow("ip:1", 50, 3)
	}, time.Second, 5*time.Millisecond)
}

func TestLocalBucketsCapAtBurst(t *testing.T) {
	buckets := newLocalBuckets()

	assert.True(t, buckets.allow("ip:1", 1000, 2))
	time.Sleep(50 * time.Millisecond)

	// However long the idle period, only burst-many tokens accumulate.
	assert.True(t, buckets.allow("ip:1", 1000, 2))
	assert.True(t, buckets.allow("ip:1", 1000, 2))
	assert.False(t, buckets.allow("ip:1", 1000, 2))
}

func TestCallbackLimiterWithoutRedis(t *testing.T) {
	limiter := NewCallbackLimiter(nil)
	ctx := context.Background()

	// Submissions are human-paced: a small burst, then denial.
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.AllowSubmit(ctx, "203.0.113.7"))
	}
	assert.False(t, limiter.AllowSubmit(ctx, "203.0.113.7"))

	// Callbacks run on an independent, far more generous budget.
	assert.True(t, limiter.AllowCallback(ctx, "203.0.113.7"))

	// A nil limiter fails open.
	var absent *CallbackLimiter
	assert.True(t, absent.AllowSubmit(ctx, "203.0.113.7"))
	assert.True(t, absent.AllowCallback(ctx, "203.0.113.7"))
}
