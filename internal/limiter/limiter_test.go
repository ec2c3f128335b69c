package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestDialLimiterBurstThenThrottle(t *testing.T) {
	l := NewDialLimiter(rate.Limit(1), 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("wss://relay.example.com"), "burst dial %d", i+1)
	}
	assert.False(t, l.Allow("wss://relay.example.com"), "burst exhausted")
}

func TestDialLimiterPerAddressIsolation(t *testing.T) {
	l := NewDialLimiter(rate.Limit(1), 1)

	assert.True(t, l.Allow("wss://a.example.com"))
	assert.False(t, l.Allow("wss://a.example.com"))

	assert.True(t, l.Allow("wss://b.example.com"), "other addresses keep their own bucket")
	assert.Equal(t, 2, l.Size())
}

func TestDialLimiterEmptyAddressBypasses(t *testing.T) {
	l := NewDialLimiter(rate.Limit(1), 1)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(""))
	}
	assert.Zero(t, l.Size())
}

func TestDialLimiterReset(t *testing.T) {
	l := NewDialLimiter(rate.Limit(1), 2)

	assert.True(t, l.Allow("wss://relay.example.com"))
	assert.True(t, l.Allow("wss://relay.example.com"))
	assert.False(t, l.Allow("wss://relay.example.com"))

	l.Reset("wss://relay.example.com")

	assert.True(t, l.Allow("wss://relay.example.com"), "reset restores the full burst")
	assert.True(t, l.Allow("wss://relay.example.com"))
}

func TestDialLimiterCleanup(t *testing.T) {
	l := NewDialLimiter(rate.Limit(1), 1)

	l.Allow("wss://a.example.com")
	l.Allow("wss://b.example.com")
	assert.Equal(t, 2, l.Size())

	assert.Zero(t, l.Cleanup(time.Hour), "fresh buckets survive")
	assert.Equal(t, 2, l.Size())

	assert.Equal(t, 2, l.Cleanup(0), "zero retention drops everything")
	assert.Zero(t, l.Size())
	assert.Zero(t, l.Cleanup(0))
}
