package limiter

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Shugur-Network/lens/internal/logger"
)

// DialLimiter throttles dial attempts with one token bucket per relay
// address. A denied dial is cheap to retry; the reconnect supervisor simply
// tries again on its next pass.
type DialLimiter struct {
	log   *zap.Logger
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*dialBucket
}

type dialBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewDialLimiter returns a limiter granting r dials per second with the
// given burst, independently per address.
func NewDialLimiter(r rate.Limit, burst int) *DialLimiter {
	return &DialLimiter{
		log:     logger.New("limiter"),
		rate:    r,
		burst:   burst,
		buckets: make(map[string]*dialBucket),
	}
}

// Allow reports whether a dial to address may proceed now, consuming a
// token when it may. Empty addresses bypass limiting.
func (l *DialLimiter) Allow(address string) bool {
	if address == "" {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets[address]
	if !ok {
		b = &dialBucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[address] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := b.lim.Allow()
	if !allowed {
		l.log.Debug("Dial attempt throttled", zap.String("relay", address))
	}
	return allowed
}

// Reset drops the bucket for address so its next dial starts with a full
// burst.
func (l *DialLimiter) Reset(address string) {
	l.mu.Lock()
	delete(l.buckets, address)
	l.mu.Unlock()
}

// Cleanup removes buckets idle for longer than retention and reports how
// many were dropped.
func (l *DialLimiter) Cleanup(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for addr, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, addr)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked addresses.
func (l *DialLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
