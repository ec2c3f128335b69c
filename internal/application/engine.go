package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/config"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/identity"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/query"
	"github.com/Shugur-Network/lens/internal/relay"
	"github.com/Shugur-Network/lens/internal/store"
	"github.com/Shugur-Network/lens/internal/web"
	"github.com/Shugur-Network/lens/internal/workers"
)

// Engine ties together the components of the client: the connection pool,
// the query registry with its snapshot publisher and janitor, the record
// cache, and the status web server. There is no package-level instance; an
// Engine is constructed explicitly and passed to every call site.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	config      *config.Config
	identity    *identity.ClientIdentity
	cache       domain.Cache
	gate        *IngestGate
	WorkerPool  *workers.WorkerPool
	factory     domain.ConnectionFactory
	Pool        *relay.Pool
	Publisher   *query.Publisher
	Registry    *query.Registry
	janitor     *query.Janitor
	reconnector *Reconnector
	tracker     *health.Tracker
	web         *web.Server // nil when disabled

	cacheReady chan struct{}
	readyOnce  sync.Once
	startTime  time.Time
}

// New creates and wires an Engine using the EngineBuilder pattern.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	builder := NewEngineBuilder(ctx, cfg)

	if err := builder.BuildIdentity(); err != nil {
		return nil, fmt.Errorf("failed building identity: %w", err)
	}
	if err := builder.BuildCache(); err != nil {
		return nil, fmt.Errorf("failed building cache: %w", err)
	}
	builder.BuildWorkers()
	builder.BuildQueryLayer()
	builder.BuildPool()
	builder.BuildWeb()

	eng, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	return eng, nil
}

/* --- |-------------------------------| ---
   --- | 1. Lifecycle                  | ---
   --- |-------------------------------| --- */

// Start launches the engine's loops: the cache preload, the seed relay
// connections, the janitor sweep, the reconnect supervisor and the status
// web server. It returns immediately; the loops run until Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	go e.preloadCache()

	for _, seed := range e.config.Relays.Seeds {
		e.Pool.Connect(e.ctx, seed, models.DefaultConnectOptions())
	}

	e.janitor.Start()
	e.reconnector.Start(e.ctx)

	if e.web != nil {
		go func() {
			if err := e.web.Start(e.ctx); err != nil {
				logger.Error("Status server error", zap.Error(err))
			}
		}()
	}

	logger.Info("Engine started",
		zap.Int("seed_relays", len(e.config.Relays.Seeds)),
		zap.String("cache_driver", e.config.Cache.Driver),
		zap.Bool("web", e.web != nil))
	return nil
}

// preloadCache runs the one-time startup preload and then closes the
// readiness channel. A failed preload is logged; consumers observe an empty
// cache rather than a stalled engine.
func (e *Engine) preloadCache() {
	defer e.readyOnce.Do(func() { close(e.cacheReady) })

	ctx, cancel := context.WithTimeout(e.ctx, e.config.Cache.PreloadTimeout)
	defer cancel()

	if err := e.cache.Preload(ctx); err != nil {
		logger.Error("Cache preload failed", zap.Error(err))
		return
	}
	logger.Info("✅ Cache preloaded")
}

// Shutdown tears the engine down in order: timers first, then the pool, the
// workers, the cache, and finally the web server. Errors are collected and
// returned together; the ctx bounds the whole teardown.
func (e *Engine) Shutdown(ctx context.Context) error {
	logger.Info("Initiating graceful shutdown...")

	var shutdownErrors error

	// Step 1: stop the sweep and reconnect loops
	e.janitor.Stop()
	e.reconnector.Stop()
	logger.Debug("✅ Timers stopped")

	// Step 2: close every relay connection
	if err := e.Pool.Close(); err != nil {
		shutdownErrors = multierr.Append(shutdownErrors, fmt.Errorf("pool: %w", err))
	} else {
		logger.Debug("✅ Connection pool closed")
	}

	// Step 3: let queued cache writes finish, bounded by ctx
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.WorkerPool.Stop()
	}()
	select {
	case <-done:
		logger.Debug("✅ Worker pool finished")
	case <-ctx.Done():
		shutdownErrors = multierr.Append(shutdownErrors,
			fmt.Errorf("worker pool shutdown timed out: %w", ctx.Err()))
		logger.Warn("Worker pool shutdown timed out")
	}

	// Step 4: close the record cache
	if err := e.cache.Close(); err != nil {
		shutdownErrors = multierr.Append(shutdownErrors, fmt.Errorf("cache: %w", err))
	} else {
		logger.Debug("✅ Cache closed")
	}

	// Step 5: stop the status server
	if e.web != nil {
		if err := e.web.Shutdown(ctx); err != nil {
			shutdownErrors = multierr.Append(shutdownErrors, fmt.Errorf("web: %w", err))
		} else {
			logger.Debug("✅ Status server stopped")
		}
	}

	// Step 6: cancel the engine context
	if e.cancel != nil {
		e.cancel()
	}

	if shutdownErrors != nil {
		logger.Warn("Engine shutdown completed with errors",
			zap.Int("error_count", len(multierr.Errors(shutdownErrors))),
			zap.Error(shutdownErrors))
	} else {
		logger.Info("✅ Engine shutdown completed successfully")
	}
	return shutdownErrors
}

/* --- |-------------------------------| ---
   --- | 2. Queries                    | ---
   --- |-------------------------------| --- */

// Submit registers or revises a subscription and returns the store
// receiving its results. A nil request returns a fresh unregistered store.
func (e *Engine) Submit(typ store.Type, req *models.Request) store.Store {
	return e.Registry.Submit(typ, req)
}

// Cancel marks the query pending-close; the janitor removes it within a
// second unless the query was created with LeaveOpen.
func (e *Engine) Cancel(id string) {
	e.Registry.Cancel(id)
}

// Uncancel revives a pending-close query before the janitor gets to it.
func (e *Engine) Uncancel(id string) {
	e.Registry.Uncancel(id)
}

// Hook registers a snapshot observer and returns its unsubscribe function.
func (e *Engine) Hook(fn query.Observer) func() {
	return e.Publisher.Hook(fn)
}

// Snapshot returns the most recently published state projection.
func (e *Engine) Snapshot() *query.Snapshot {
	return e.Publisher.Get()
}

// CacheReady is closed once the startup cache preload has completed. Query
// submission may only assume cached profiles are visible after it.
func (e *Engine) CacheReady() <-chan struct{} {
	return e.cacheReady
}

/* --- |-------------------------------| ---
   --- | 3. Relays                     | ---
   --- |-------------------------------| --- */

// Connect ensures a pooled connection to address. Failures are logged and
// swallowed; one unreachable relay never blocks others.
func (e *Engine) Connect(address string, opts models.ConnectOptions) {
	e.Pool.Connect(e.ctx, address, opts)
}

// ConnectEphemeral opens an untracked read-only connection for one-shot
// use. The caller owns the returned connection and must Close it.
func (e *Engine) ConnectEphemeral(ctx context.Context, address string) (domain.RelayConnection, error) {
	return e.Pool.ConnectEphemeral(ctx, address)
}

// Disconnect removes the address from the pool and closes its connection.
func (e *Engine) Disconnect(address string) {
	e.Pool.Disconnect(address)
}

// Broadcast sends the event to every connected writable relay, best effort.
func (e *Engine) Broadcast(evt *nostr.Event) {
	e.Pool.Broadcast(evt)
}

// WriteOnce publishes one event over a fresh ephemeral connection and waits
// for the relay's acknowledgment, bounded by the configured ack timeout.
func (e *Engine) WriteOnce(ctx context.Context, address string, evt *nostr.Event) error {
	return e.Pool.WriteOnce(ctx, address, evt)
}

/* --- |-------------------------------| ---
   --- | 4. Introspection              | ---
   --- |-------------------------------| --- */

// Cache returns the engine's record cache.
func (e *Engine) Cache() domain.Cache {
	return e.cache
}

// Identity returns the client keypair, or nil when none is configured.
func (e *Engine) Identity() *identity.ClientIdentity {
	return e.identity
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Tracker returns the per-relay dial health tracker.
func (e *Engine) Tracker() *health.Tracker {
	return e.tracker
}

// StartTime returns when the engine was built.
func (e *Engine) StartTime() time.Time {
	return e.startTime
}
