package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[string, int]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1, time.Minute)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	// Overwrite replaces the value and its deadline.
	c.Set("a", 2, time.Minute)
	got, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, got)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("k", "v", 20*time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTTLCacheRejectsNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}
