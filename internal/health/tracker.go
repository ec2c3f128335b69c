package health

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/logger"
)

// RelayHealth is the externally visible dial history of one relay address.
type RelayHealth struct {
	Address     string    `json:"address"`
	Failures    int       `json:"failures"`
	LastSuccess time.Time `json:"last_success"`
	LastFailure time.Time `json:"last_failure"`
	NextAttempt time.Time `json:"next_attempt"`
	BackingOff  bool      `json:"backing_off"`
}

type entry struct {
	failures    int
	lastSuccess time.Time
	lastFailure time.Time
	nextAttempt time.Time
}

// Tracker records per-relay dial outcomes and computes the backoff window
// that must elapse before the next attempt. The reconnect supervisor
// consults it; the status API exposes it.
type Tracker struct {
	log   *zap.Logger
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTracker returns an empty tracker. A nil clock selects wall time.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		log:     logger.New("health"),
		clock:   clk,
		entries: make(map[string]*entry),
	}
}

// ReportSuccess clears the failure streak for address.
func (t *Tracker) ReportSuccess(address string) {
	now := t.clock.Now()

	t.mu.Lock()
	e := t.ensure(address)
	recovered := e.failures > 0
	e.failures = 0
	e.lastSuccess = now
	e.nextAttempt = time.Time{}
	t.mu.Unlock()

	if recovered {
		t.log.Info("Relay recovered", zap.String("relay", address))
	}
}

// ReportFailure extends the backoff window for address: the base wait
// doubles per consecutive failure up to the cap.
func (t *Tracker) ReportFailure(address string) {
	now := t.clock.Now()

	t.mu.Lock()
	e := t.ensure(address)
	e.failures++
	e.lastFailure = now
	wait := backoffFor(e.failures)
	e.nextAttempt = now.Add(wait)
	failures := e.failures
	t.mu.Unlock()

	t.log.Debug("Relay failure recorded",
		zap.String("relay", address),
		zap.Int("failures", failures),
		zap.Duration("backoff", wait))
}

// AllowRetry reports whether address is past its backoff window. Unknown
// addresses may always be tried.
func (t *Tracker) AllowRetry(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[address]
	if !ok || e.nextAttempt.IsZero() {
		return true
	}
	return !t.clock.Now().Before(e.nextAttempt)
}

// Status returns the health of one address.
func (t *Tracker) Status(address string) (RelayHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[address]
	if !ok {
		return RelayHealth{}, false
	}
	return t.healthLocked(address, e), true
}

// Snapshot returns the health of every tracked address, sorted by address.
func (t *Tracker) Snapshot() []RelayHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RelayHealth, 0, len(t.entries))
	for addr, e := range t.entries {
		out = append(out, t.healthLocked(addr, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// BackingOff counts addresses currently inside a backoff window.
func (t *Tracker) BackingOff() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	count := 0
	for _, e := range t.entries {
		if !e.nextAttempt.IsZero() && now.Before(e.nextAttempt) {
			count++
		}
	}
	return count
}

// Forget drops the history for address.
func (t *Tracker) Forget(address string) {
	t.mu.Lock()
	delete(t.entries, address)
	t.mu.Unlock()
}

func (t *Tracker) ensure(address string) *entry {
	e, ok := t.entries[address]
	if !ok {
		e = &entry{}
		t.entries[address] = e
	}
	return e
}

func (t *Tracker) healthLocked(address string, e *entry) RelayHealth {
	return RelayHealth{
		Address:     address,
		Failures:    e.failures,
		LastSuccess: e.lastSuccess,
		LastFailure: e.lastFailure,
		NextAttempt: e.nextAttempt,
		BackingOff:  !e.nextAttempt.IsZero() && t.clock.Now().Before(e.nextAttempt),
	}
}

func backoffFor(failures int) time.Duration {
	wait := constants.HealthBackoffBase
	for i := 1; i < failures; i++ {
		wait *= 2
		if wait >= constants.HealthBackoffMax {
			return constants.HealthBackoffMax
		}
	}
	return wait
}
