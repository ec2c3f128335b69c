package query

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/logger"
)

// Janitor periodically evicts pending-close queries from the registry. The
// timer is re-armed only after a sweep completes, so sweeps never overlap.
type Janitor struct {
	log      *zap.Logger
	clock    clock.Clock
	registry *Registry

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewJanitor creates a sweep loop over the registry. A nil clk uses wall
// time.
func NewJanitor(registry *Registry, clk clock.Clock) *Janitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Janitor{
		log:      logger.New("janitor"),
		clock:    clk,
		registry: registry,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it again is a no-op.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.started.Store(true)
		go j.run()
	})
}

func (j *Janitor) run() {
	defer close(j.done)

	t := j.clock.Timer(constants.JanitorInterval)
	defer t.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-t.C:
			if removed := j.registry.RemoveExpired(); removed > 0 {
				j.log.Debug("Sweep removed expired queries", zap.Int("removed", removed))
			}
			t.Reset(constants.JanitorInterval)
		}
	}
}

// Stop tears the loop down and waits for an in-flight sweep to finish.
// Safe to call more than once, and before Start.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	if j.started.Load() {
		<-j.done
	}
}
