package application

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/relay"
)

// Reconnector re-issues Connect for persistent connections that dropped,
// once their backoff window has elapsed. The pool itself never retries;
// this loop is the only supervision. Ephemeral connections are left alone.
type Reconnector struct {
	log     *zap.Logger
	clock   clock.Clock
	pool    *relay.Pool
	tracker *health.Tracker

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewReconnector creates the supervision loop. A nil clk uses wall time.
func NewReconnector(pool *relay.Pool, tracker *health.Tracker, clk clock.Clock) *Reconnector {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconnector{
		log:     logger.New("reconnector"),
		clock:   clk,
		pool:    pool,
		tracker: tracker,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the loop. Calling it again is a no-op.
func (r *Reconnector) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run(ctx)
	})
}

func (r *Reconnector) run(ctx context.Context) {
	defer close(r.done)

	t := r.clock.Timer(constants.ReconnectInterval)
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep(ctx)
			t.Reset(constants.ReconnectInterval)
		}
	}
}

// sweep retries every dropped persistent connection whose backoff window
// has passed. The dial outcome feeds back into the tracker through the
// pool's dial listener, so consecutive failures keep widening the window.
func (r *Reconnector) sweep(ctx context.Context) {
	for _, st := range r.pool.Statuses() {
		if st.Connected || st.Ephemeral {
			continue
		}
		if !r.tracker.AllowRetry(st.Address) {
			continue
		}
		r.log.Debug("Retrying dropped relay", zap.String("address", st.Address))
		r.pool.Connect(ctx, st.Address, models.ConnectOptions{Read: st.Read, Write: st.Write})
	}
}

// Stop tears the loop down and waits for an in-flight sweep to finish.
// Safe to call more than once, and before Start.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}
