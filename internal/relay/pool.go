package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/errors"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
)

// DialGate rate-limits connection attempts per relay address. A nil gate
// allows everything.
type DialGate interface {
	Allow(address string) bool
}

// DialListener observes the outcome of every pooled dial attempt. err is nil
// on success. Ephemeral one-shots are not reported.
type DialListener func(address string, err error)

// Pool owns every relay connection. Addresses are normalized before lookup,
// so equivalent spellings share one connection. Connecting an address the
// pool already tracks updates that connection's settings in place instead of
// opening a second socket.
//
// The pool never retries a failed dial on its own; supervision lives a layer
// up and comes back through Connect.
type Pool struct {
	log          *zap.Logger
	factory      domain.ConnectionFactory
	handler      domain.ConnectionHandler
	source       domain.SubscriptionSource
	dialGate     DialGate
	dialListener DialListener
	ackTimeout   time.Duration

	mu    sync.RWMutex
	conns map[string]domain.RelayConnection
}

// Option customizes a Pool.
type Option func(*Pool)

// WithAckTimeout overrides how long one-shot writes wait for the relay's
// acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(p *Pool) { p.ackTimeout = d }
}

// WithDialGate installs a per-address dial rate limit.
func WithDialGate(g DialGate) Option {
	return func(p *Pool) { p.dialGate = g }
}

// WithDialListener installs an observer for pooled dial outcomes.
func WithDialListener(fn DialListener) Option {
	return func(p *Pool) { p.dialListener = fn }
}

// NewPool creates an empty pool. Inbound frames from every connection are
// routed into handler; source supplies the subscriptions replayed onto each
// freshly established readable connection.
func NewPool(factory domain.ConnectionFactory, handler domain.ConnectionHandler,
	source domain.SubscriptionSource, opts ...Option) *Pool {
	p := &Pool{
		log:        logger.New("pool"),
		factory:    factory,
		source:     source,
		ackTimeout: constants.AckTimeout,
		conns:      make(map[string]domain.RelayConnection),
	}
	p.handler = &replayHandler{pool: p, next: handler}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

/* --- |-------------------------------| ---
   --- | 1. Connection Management      | ---
   --- |-------------------------------| --- */

// Connect ensures a pooled connection to address with the given settings.
// Malformed addresses and dial failures are logged and swallowed; the pool
// stays consistent either way.
func (p *Pool) Connect(ctx context.Context, address string, opts models.ConnectOptions) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		appErr := errors.MalformedAddress(address, err)
		p.log.Error("Rejecting malformed relay address",
			zap.String("address", address), zap.Error(appErr))
		metrics.ErrorsCount.WithLabelValues(string(errors.ErrorTypeValidation)).Inc()
		return
	}

	p.mu.Lock()
	if existing, ok := p.conns[norm]; ok {
		p.mu.Unlock()
		existing.SetOptions(opts)
		if !existing.IsConnected() {
			go p.dial(ctx, existing)
		}
		return
	}
	conn := p.factory.NewConnection(norm, opts, false, p.handler)
	p.conns[norm] = conn
	p.mu.Unlock()

	p.log.Info("Relay added to pool",
		zap.String("address", norm),
		zap.Bool("read", opts.Read),
		zap.Bool("write", opts.Write))
	go p.dial(ctx, conn)
}

func (p *Pool) dial(ctx context.Context, conn domain.RelayConnection) {
	addr := conn.Address()
	if p.dialGate != nil && !p.dialGate.Allow(addr) {
		p.log.Warn("Dial suppressed by rate limit", zap.String("address", addr))
		return
	}
	err := conn.Connect(ctx)
	if err != nil {
		p.log.Warn("Relay connection failed",
			zap.String("address", addr), zap.Error(err))
	}
	if p.dialListener != nil {
		p.dialListener(addr, err)
	}
}

// ConnectEphemeral opens an untracked read-only connection for one-shot use.
// The caller owns the returned connection and must Close it.
func (p *Pool) ConnectEphemeral(ctx context.Context, address string) (domain.RelayConnection, error) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		return nil, errors.MalformedAddress(address, err)
	}
	conn := p.factory.NewConnection(norm, models.ConnectOptions{Read: true}, true, p.handler)
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Disconnect removes the address from the pool and closes its connection.
// Unknown and malformed addresses are no-ops.
func (p *Pool) Disconnect(address string) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		p.log.Debug("Disconnect with malformed address",
			zap.String("address", address), zap.Error(err))
		return
	}

	p.mu.Lock()
	conn, ok := p.conns[norm]
	if ok {
		delete(p.conns, norm)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if err := conn.Close(); err != nil {
		p.log.Debug("Error closing relay connection",
			zap.String("address", norm), zap.Error(err))
	}
	p.log.Info("Relay removed from pool", zap.String("address", norm))
}

/* --- |-------------------------------| ---
   --- | 2. Traffic                    | ---
   --- |-------------------------------| --- */

// FanOut opens the subscription on every connected readable connection,
// optionally restricted to an allow-list of addresses.
func (p *Pool) FanOut(id string, filters []nostr.Filter, relays []string) {
	allowed := normalizeSet(relays)
	for _, conn := range p.readableConns() {
		if allowed != nil {
			if _, ok := allowed[conn.Address()]; !ok {
				continue
			}
		}
		if err := conn.SendSubscription(id, filters); err != nil {
			p.log.Debug("Subscription fan-out failed",
				zap.String("address", conn.Address()),
				zap.String("sub_id", id), zap.Error(err))
		}
	}
}

// CloseSubscription sends a close frame for the id on every connected
// readable connection.
func (p *Pool) CloseSubscription(id string, relays []string) {
	allowed := normalizeSet(relays)
	for _, conn := range p.readableConns() {
		if allowed != nil {
			if _, ok := allowed[conn.Address()]; !ok {
				continue
			}
		}
		if err := conn.SendClose(id); err != nil {
			p.log.Debug("Subscription close failed",
				zap.String("address", conn.Address()),
				zap.String("sub_id", id), zap.Error(err))
		}
	}
}

// Broadcast sends the event to every connected write-capable connection,
// best effort. Delivery failures are logged, never surfaced.
func (p *Pool) Broadcast(evt *nostr.Event) {
	conns := p.writableConns()
	if len(conns) == 0 {
		p.log.Debug("Broadcast with no writable connections",
			zap.String("event_id", evt.ID))
		return
	}
	for _, conn := range conns {
		go func(conn domain.RelayConnection) {
			ctx, cancel := context.WithTimeout(context.Background(), p.ackTimeout)
			defer cancel()
			if err := conn.SendEvent(ctx, evt); err != nil {
				p.log.Debug("Broadcast delivery failed",
					zap.String("address", conn.Address()),
					zap.String("event_id", evt.ID), zap.Error(err))
			}
		}(conn)
	}
}

// WriteOnce publishes one event over a fresh ephemeral write-only
// connection and waits for the relay's acknowledgment. The whole operation
// shares one deadline; exceeding it is reported as a write timeout.
func (p *Pool) WriteOnce(ctx context.Context, address string, evt *nostr.Event) error {
	norm, err := NormalizeAddress(address)
	if err != nil {
		metrics.WriteOnce.WithLabelValues("error").Inc()
		return errors.MalformedAddress(address, err)
	}

	conn := p.factory.NewConnection(norm, models.ConnectOptions{Write: true}, true, p.handler)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return p.writeOnceFailed(ctx, norm, err)
	}
	if err := conn.SendEvent(ctx, evt); err != nil {
		return p.writeOnceFailed(ctx, norm, err)
	}

	metrics.WriteOnce.WithLabelValues("ok").Inc()
	p.log.Debug("One-shot write acknowledged",
		zap.String("address", norm), zap.String("event_id", evt.ID))
	return nil
}

func (p *Pool) writeOnceFailed(ctx context.Context, address string, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.WriteOnce.WithLabelValues("timeout").Inc()
		return errors.WriteTimeout(address, p.ackTimeout)
	}
	metrics.WriteOnce.WithLabelValues("error").Inc()
	return err
}

/* --- |-------------------------------| ---
   --- | 3. Introspection and Teardown | ---
   --- |-------------------------------| --- */

// Statuses reports every pooled connection, sorted by address.
func (p *Pool) Statuses() []models.RelayStatus {
	conns := p.snapshotConns()
	out := make([]models.RelayStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Close tears down every pooled connection, aggregating their errors.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]domain.RelayConnection)
	p.mu.Unlock()

	var errs error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	metrics.SyncActiveConnectionsCount(0)
	p.log.Info("Connection pool closed", zap.Int("connections", len(conns)))
	return errs
}

func (p *Pool) snapshotConns() []domain.RelayConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.RelayConnection, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn)
	}
	return out
}

func (p *Pool) readableConns() []domain.RelayConnection {
	var out []domain.RelayConnection
	for _, conn := range p.snapshotConns() {
		if conn.IsConnected() && conn.Options().Read {
			out = append(out, conn)
		}
	}
	return out
}

func (p *Pool) writableConns() []domain.RelayConnection {
	var out []domain.RelayConnection
	for _, conn := range p.snapshotConns() {
		if conn.IsConnected() && conn.Options().Write {
			out = append(out, conn)
		}
	}
	return out
}

func normalizeSet(relays []string) map[string]struct{} {
	if len(relays) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(relays))
	for _, r := range relays {
		if norm, err := NormalizeAddress(r); err == nil {
			set[norm] = struct{}{}
		}
	}
	return set
}

/* --- |-------------------------------| ---
   --- | 4. Replay Wrapper             | ---
   --- |-------------------------------| --- */

// replayHandler sits between connections and the engine's handler. On every
// successful establishment of a pooled readable connection it replays the
// live subscriptions before forwarding the signal.
type replayHandler struct {
	pool *Pool
	next domain.ConnectionHandler
}

func (h *replayHandler) OnConnected(conn domain.RelayConnection) {
	if !conn.IsEphemeral() && conn.Options().Read && h.pool.source != nil {
		for _, spec := range h.pool.source.ActiveSubscriptions() {
			if !specAllows(spec.Relays, conn.Address()) {
				continue
			}
			if err := conn.SendSubscription(spec.ID, spec.Filters); err != nil {
				h.pool.log.Debug("Subscription replay failed",
					zap.String("address", conn.Address()),
					zap.String("sub_id", spec.ID), zap.Error(err))
			}
		}
	}
	h.next.OnConnected(conn)
}

func (h *replayHandler) OnEvent(subID string, evt *nostr.Event) {
	h.next.OnEvent(subID, evt)
}

func (h *replayHandler) OnEndOfStoredEvents(subID string) {
	h.next.OnEndOfStoredEvents(subID)
}

func (h *replayHandler) OnDisconnect(conn domain.RelayConnection, active, pending []string) {
	h.next.OnDisconnect(conn, active, pending)
}

func specAllows(relays []string, address string) bool {
	if len(relays) == 0 {
		return true
	}
	for _, r := range relays {
		if norm, err := NormalizeAddress(r); err == nil && norm == address {
			return true
		}
	}
	return false
}
