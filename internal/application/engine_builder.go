package application

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	nostr "github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"

	"github.com/Shugur-Network/lens/internal/cache"
	"github.com/Shugur-Network/lens/internal/config"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/identity"
	"github.com/Shugur-Network/lens/internal/limiter"
	"github.com/Shugur-Network/lens/internal/query"
	"github.com/Shugur-Network/lens/internal/relay"
	"github.com/Shugur-Network/lens/internal/web"
	"github.com/Shugur-Network/lens/internal/workers"
)

// EngineBuilder assembles an Engine step by step. Steps must run in order;
// Build asserts that every required part exists.
type EngineBuilder struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	clock      clock.Clock
	cacheReady chan struct{}

	identity   *identity.ClientIdentity
	cache      domain.Cache
	ingestor   *cache.Ingestor
	workerPool *workers.WorkerPool
	publisher  *query.Publisher
	registry   *query.Registry
	janitor    *query.Janitor
	tracker    *health.Tracker
	gate       *IngestGate
	factory    domain.ConnectionFactory
	pool       *relay.Pool
	webSrv     *web.Server
}

// NewEngineBuilder creates a builder rooted in ctx. The builder derives the
// engine's own cancelable context from it.
func NewEngineBuilder(ctx context.Context, cfg *config.Config) *EngineBuilder {
	engCtx, cancel := context.WithCancel(ctx)
	return &EngineBuilder{
		ctx:        engCtx,
		cancel:     cancel,
		cfg:        cfg,
		clock:      clock.New(),
		cacheReady: make(chan struct{}),
	}
}

// WithClock substitutes the wall clock, letting tests drive the janitor and
// reconnect timers deterministically.
func (b *EngineBuilder) WithClock(clk clock.Clock) *EngineBuilder {
	b.clock = clk
	return b
}

// WithConnectionFactory substitutes the websocket factory, letting tests
// run the full engine against in-memory connections.
func (b *EngineBuilder) WithConnectionFactory(f domain.ConnectionFactory) *EngineBuilder {
	b.factory = f
	return b
}

// BuildIdentity resolves the client keypair from config.
func (b *EngineBuilder) BuildIdentity() error {
	id, err := identity.Load(b.cfg.Identity.SecretKey, b.cfg.Identity.KeyFile)
	if err != nil {
		return err
	}
	b.identity = id
	return nil
}

// BuildCache selects the record cache driver from config.
func (b *EngineBuilder) BuildCache() error {
	switch b.cfg.Cache.Driver {
	case "postgres":
		pg, err := cache.NewPostgresCache(b.ctx, b.cfg.Cache.DatabaseURL)
		if err != nil {
			return err
		}
		b.cache = pg
	default:
		b.cache = cache.NewMemoryCache()
	}
	b.ingestor = cache.NewIngestor(b.cache)
	return nil
}

// BuildWorkers creates the pool running cache persistence jobs.
func (b *EngineBuilder) BuildWorkers() {
	b.workerPool = workers.NewWorkerPool(b.cfg.Workers.Count, b.cfg.Workers.QueueSize)
}

// BuildQueryLayer creates the snapshot publisher, the registry bound to it,
// and the janitor sweep. The registry's fan-out target is wired later by
// BuildPool through the indirection below.
func (b *EngineBuilder) BuildQueryLayer() {
	b.publisher = query.NewPublisher()
	b.registry = query.NewRegistry(&poolFanout{builder: b}, b.publisher, b.clock)
	b.janitor = query.NewJanitor(b.registry, b.clock)
}

// BuildPool creates the health tracker, the dial limiter, the transport
// factory and the connection pool, with the ingest gate as every
// connection's handler.
func (b *EngineBuilder) BuildPool() {
	b.tracker = health.NewTracker(b.clock)
	b.gate = NewIngestGate(b.registry, b.ingestor, b.workerPool, b.tracker)

	if b.factory == nil {
		b.factory = relay.NewWsFactory(relay.ConnConfig{
			DialTimeout:  b.cfg.Relays.DialTimeout,
			PingInterval: b.cfg.Relays.PingInterval,
			PongWait:     b.cfg.Relays.PongTimeout,
			WriteWait:    b.cfg.Relays.WriteTimeout,
			MaxFrameSize: b.cfg.Relays.ReadLimit,
			EventRate:    rate.Limit(b.cfg.Relays.MaxEventRate),
			EventBurst:   b.cfg.Relays.MaxEventBurst,
		}, b.identity)
	}

	dialGate := limiter.NewDialLimiter(rate.Limit(b.cfg.Relays.DialRate), b.cfg.Relays.DialBurst)
	b.pool = relay.NewPool(b.factory, b.gate, b.registry,
		relay.WithAckTimeout(b.cfg.Relays.AckTimeout),
		relay.WithDialGate(dialGate),
		relay.WithDialListener(func(address string, err error) {
			if err != nil {
				b.tracker.ReportFailure(address)
			} else {
				b.tracker.ReportSuccess(address)
			}
		}))
}

// BuildWeb creates the status server when enabled. Requires BuildPool.
func (b *EngineBuilder) BuildWeb() {
	if !b.cfg.Web.Enabled {
		return
	}
	ready := func() bool {
		select {
		case <-b.cacheReady:
			return true
		default:
			return false
		}
	}
	handler := web.NewHandler(b.publisher, b.pool, b.tracker, b.workerPool.Backlog, config.Version)
	checker := health.NewChecker(b.tracker, b.pool, b.registry, ready, config.Version)
	b.webSrv = web.NewServer(b.cfg.Web.Addr, handler, checker)
}

// Build assembles the Engine from the built parts.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.cache == nil || b.workerPool == nil || b.registry == nil || b.pool == nil {
		return nil, fmt.Errorf("engine builder: steps missing (cache=%v workers=%v registry=%v pool=%v)",
			b.cache != nil, b.workerPool != nil, b.registry != nil, b.pool != nil)
	}

	eng := &Engine{
		ctx:         b.ctx,
		cancel:      b.cancel,
		config:      b.cfg,
		identity:    b.identity,
		cache:       b.cache,
		gate:        b.gate,
		WorkerPool:  b.workerPool,
		factory:     b.factory,
		Pool:        b.pool,
		Publisher:   b.publisher,
		Registry:    b.registry,
		janitor:     b.janitor,
		reconnector: NewReconnector(b.pool, b.tracker, b.clock),
		tracker:     b.tracker,
		web:         b.webSrv,
		cacheReady:  b.cacheReady,
		startTime:   time.Now(),
	}
	return eng, nil
}

// poolFanout defers the registry's fan-out target to the pool built in a
// later step, breaking the registry/pool construction cycle. The registry
// never fans out before BuildPool completes: Submit is unreachable until
// the engine exists.
type poolFanout struct {
	builder *EngineBuilder
}

func (f *poolFanout) FanOut(id string, filters []nostr.Filter, relays []string) {
	if p := f.builder.pool; p != nil {
		p.FanOut(id, filters, relays)
	}
}

func (f *poolFanout) CloseSubscription(id string, relays []string) {
	if p := f.builder.pool; p != nil {
		p.CloseSubscription(id, relays)
	}
}
