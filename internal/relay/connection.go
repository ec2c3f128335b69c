package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/errors"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
)

// AuthSigner produces a signed authentication event for a relay challenge.
// Connections without a signer ignore AUTH frames.
type AuthSigner interface {
	SignAuth(challenge, address string) (*nostr.Event, error)
}

// ConnConfig bundles the transport tunables shared by every connection a
// factory creates.
type ConnConfig struct {
	DialTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	MaxFrameSize int64
	EventRate    rate.Limit // inbound events per second before flood-dropping
	EventBurst   int
}

// DefaultConnConfig returns the stock transport tunables.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		DialTimeout:  constants.DialTimeout,
		PingInterval: constants.PingInterval,
		PongWait:     constants.PongWait,
		WriteWait:    constants.WriteWait,
		MaxFrameSize: constants.MaxFrameSize,
		EventRate:    rate.Limit(constants.DefaultEventRate),
		EventBurst:   constants.DefaultEventBurst,
	}
}

// okResult is a relay's verdict on one published event.
type okResult struct {
	accepted bool
	reason   string
}

/* --- |-------------------------------| ---
   --- | 1. Connection                 | ---
   --- |-------------------------------| --- */

// WsConnection is one client websocket to a relay. It owns the socket, the
// read loop and the keepalive loop; inbound frames are demultiplexed into the
// handler's slots. A dropped socket leaves the connection reusable: Connect
// may be called again until Close retires it for good.
type WsConnection struct {
	address   string
	ephemeral bool
	handler   domain.ConnectionHandler
	cfg       ConnConfig
	signer    AuthSigner
	logger    *zap.Logger

	// stateMu guards the socket pointer, options and session timestamp.
	stateMu     sync.Mutex
	ws          *websocket.Conn
	opts        models.ConnectOptions
	connectedAt time.Time

	connected atomic.Bool
	isClosed  atomic.Bool
	closeMu   sync.Once

	// writeMu serializes frame writes on the socket.
	writeMu sync.Mutex

	// subMu guards the subscription books. A subscription is pending from
	// REQ until EOSE, active afterwards.
	subMu       sync.RWMutex
	pendingSubs map[string][]nostr.Filter
	activeSubs  map[string][]nostr.Filter

	// okMu guards the waiters for publish acknowledgments, keyed by event id.
	okMu      sync.Mutex
	okWaiters map[string]chan okResult

	limiter *rate.Limiter
}

// NewWsConnection creates an unconnected transport to the given normalized
// address. The handler and config are fixed for the connection's lifetime.
func NewWsConnection(address string, opts models.ConnectOptions, ephemeral bool,
	handler domain.ConnectionHandler, cfg ConnConfig, signer AuthSigner) *WsConnection {
	return &WsConnection{
		address:     address,
		ephemeral:   ephemeral,
		handler:     handler,
		cfg:         cfg,
		signer:      signer,
		logger:      logger.ForRelay("relay", address),
		opts:        opts,
		pendingSubs: make(map[string][]nostr.Filter),
		activeSubs:  make(map[string][]nostr.Filter),
		okWaiters:   make(map[string]chan okResult),
		limiter:     rate.NewLimiter(cfg.EventRate, cfg.EventBurst),
	}
}

// Connect dials the relay and starts the read and keepalive loops. It is a
// no-op on an already connected socket and an error after Close.
func (c *WsConnection) Connect(ctx context.Context) error {
	if c.isClosed.Load() {
		return errors.ConnectionFailure(c.address, fmt.Errorf("connection is closed"))
	}
	if c.connected.Load() {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, _, err := dialer.DialContext(dialCtx, c.address, nil)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		return errors.ConnectionFailure(c.address, err)
	}

	ws.SetReadLimit(c.cfg.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	c.stateMu.Lock()
	c.ws = ws
	c.connectedAt = time.Now()
	c.stateMu.Unlock()

	if !c.connected.Swap(true) {
		metrics.IncrementActiveConnections()
	}
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	c.logger.Info("Connected to relay",
		zap.Bool("ephemeral", c.ephemeral))

	go c.readLoop(ws)
	go c.pingLoop(ws)

	c.handler.OnConnected(c)
	return nil
}

/* --- |-------------------------------| ---
   --- | 2. Outbound Frames            | ---
   --- |-------------------------------| --- */

// write sends one raw frame under the write lock with a deadline.
func (c *WsConnection) write(raw []byte) error {
	c.stateMu.Lock()
	ws := c.ws
	c.stateMu.Unlock()
	if ws == nil || !c.connected.Load() {
		return fmt.Errorf("not connected to %s", c.address)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

// SendSubscription opens or reopens a subscription on the relay. The id is
// tracked as pending until the relay's EOSE arrives.
func (c *WsConnection) SendSubscription(id string, filters []nostr.Filter) error {
	raw, err := reqFrame(id, filters)
	if err != nil {
		return fmt.Errorf("encode REQ %s: %w", id, err)
	}

	// Track before sending so an immediate EOSE finds the id.
	c.subMu.Lock()
	c.pendingSubs[id] = filters
	delete(c.activeSubs, id)
	c.subMu.Unlock()

	if err := c.write(raw); err != nil {
		c.subMu.Lock()
		delete(c.pendingSubs, id)
		c.subMu.Unlock()
		return errors.ConnectionFailure(c.address, err)
	}

	metrics.IncrementFramesSent(msgTypeReq)
	c.logger.Debug("Subscription sent",
		zap.String("sub_id", id),
		zap.Int("filters", len(filters)))
	return nil
}

// SendClose tells the relay to stop a subscription and forgets it locally.
func (c *WsConnection) SendClose(id string) error {
	c.subMu.Lock()
	delete(c.pendingSubs, id)
	delete(c.activeSubs, id)
	c.subMu.Unlock()

	raw, err := closeFrame(id)
	if err != nil {
		return fmt.Errorf("encode CLOSE %s: %w", id, err)
	}
	if err := c.write(raw); err != nil {
		return errors.ConnectionFailure(c.address, err)
	}

	metrics.IncrementFramesSent(msgTypeClose)
	c.logger.Debug("Subscription closed", zap.String("sub_id", id))
	return nil
}

// SendEvent publishes one event and blocks until the relay acknowledges it
// or ctx ends. A negative acknowledgment is returned as an error.
func (c *WsConnection) SendEvent(ctx context.Context, evt *nostr.Event) error {
	if !c.Options().Write {
		return fmt.Errorf("connection to %s is not writable", c.address)
	}
	raw, err := eventFrame(evt)
	if err != nil {
		return fmt.Errorf("encode EVENT %s: %w", evt.ID, err)
	}

	ch := make(chan okResult, 1)
	c.okMu.Lock()
	c.okWaiters[evt.ID] = ch
	c.okMu.Unlock()
	defer func() {
		c.okMu.Lock()
		delete(c.okWaiters, evt.ID)
		c.okMu.Unlock()
	}()

	start := time.Now()
	if err := c.write(raw); err != nil {
		return errors.ConnectionFailure(c.address, err)
	}
	metrics.IncrementFramesSent(msgTypeEvent)

	select {
	case res := <-ch:
		metrics.AckLatency.Observe(time.Since(start).Seconds())
		if !res.accepted {
			return fmt.Errorf("relay %s rejected event %s: %s", c.address, evt.ID, res.reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

/* --- |-------------------------------| ---
   --- | 3. Inbound Frames             | ---
   --- |-------------------------------| --- */

func (c *WsConnection) readLoop(ws *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in read loop", zap.Any("panic", r))
		}
		c.handleDisconnect(ws)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !c.isClosed.Load() &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Relay connection dropped", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		metrics.FrameSizeBytes.Observe(float64(len(raw)))

		f, err := parseFrame(raw)
		if err != nil {
			c.logger.Debug("Discarding malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(f)
	}
}

func (c *WsConnection) dispatch(f *frame) {
	switch f.Type {
	case msgTypeEvent:
		if !c.limiter.Allow() {
			metrics.EventsDropped.WithLabelValues("flood").Inc()
			return
		}
		metrics.IncrementEventsReceived()
		c.handler.OnEvent(f.SubID, f.Event)

	case msgTypeEOSE:
		c.markSubscriptionActive(f.SubID)
		c.handler.OnEndOfStoredEvents(f.SubID)

	case msgTypeOK:
		c.deliverOK(f.EventID, okResult{accepted: f.OK, reason: f.Message})

	case msgTypeClosed:
		c.subMu.Lock()
		delete(c.pendingSubs, f.SubID)
		delete(c.activeSubs, f.SubID)
		c.subMu.Unlock()
		c.logger.Warn("Relay closed subscription",
			zap.String("sub_id", f.SubID),
			zap.String("reason", f.Message))

	case msgTypeNotice:
		c.logger.Debug("Relay notice", zap.String("message", f.Message))

	case msgTypeAuth:
		c.handleAuthChallenge(f.Message)

	default:
		c.logger.Debug("Ignoring frame", zap.String("type", f.Type))
	}
}

func (c *WsConnection) markSubscriptionActive(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if filters, ok := c.pendingSubs[id]; ok {
		delete(c.pendingSubs, id)
		c.activeSubs[id] = filters
	}
}

func (c *WsConnection) deliverOK(eventID string, res okResult) {
	c.okMu.Lock()
	ch, ok := c.okWaiters[eventID]
	if ok {
		delete(c.okWaiters, eventID)
	}
	c.okMu.Unlock()
	if !ok {
		c.logger.Debug("Unsolicited OK frame", zap.String("event_id", eventID))
		return
	}
	ch <- res
}

// handleAuthChallenge answers a relay's AUTH challenge when an identity
// signer is configured.
func (c *WsConnection) handleAuthChallenge(challenge string) {
	if c.signer == nil {
		c.logger.Debug("Ignoring auth challenge, no signer configured")
		return
	}
	evt, err := c.signer.SignAuth(challenge, c.address)
	if err != nil {
		c.logger.Error("Failed to sign auth challenge", zap.Error(err))
		return
	}
	raw, err := authFrame(evt)
	if err != nil {
		c.logger.Error("Failed to encode auth response", zap.Error(err))
		return
	}
	if err := c.write(raw); err != nil {
		c.logger.Warn("Failed to send auth response", zap.Error(err))
		return
	}
	metrics.IncrementFramesSent(msgTypeAuth)
	c.logger.Debug("Answered auth challenge")
}

/* --- |-------------------------------| ---
   --- | 4. Keepalive and Teardown     | ---
   --- |-------------------------------| --- */

func (c *WsConnection) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.isClosed.Load() || !c.connected.Load() || !c.isCurrent(ws) {
			return
		}
		c.writeMu.Lock()
		err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("Ping failed", zap.Error(err))
			return
		}
	}
}

func (c *WsConnection) isCurrent(ws *websocket.Conn) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.ws == ws
}

// handleDisconnect runs exactly once per dropped socket. It fails pending
// publishes, snapshots and clears the subscription books, and reports the
// loss to the handler unless the drop came from a deliberate Close.
func (c *WsConnection) handleDisconnect(ws *websocket.Conn) {
	c.stateMu.Lock()
	current := c.ws == ws
	if current {
		c.ws = nil
	}
	c.stateMu.Unlock()
	if !current {
		return
	}
	if !c.connected.Swap(false) {
		return
	}

	metrics.DecrementActiveConnections()
	_ = ws.Close()

	c.failWaiters(okResult{reason: "connection lost"})

	c.subMu.Lock()
	active := make([]string, 0, len(c.activeSubs))
	for id := range c.activeSubs {
		active = append(active, id)
	}
	pending := make([]string, 0, len(c.pendingSubs))
	for id := range c.pendingSubs {
		pending = append(pending, id)
	}
	c.activeSubs = make(map[string][]nostr.Filter)
	c.pendingSubs = make(map[string][]nostr.Filter)
	c.subMu.Unlock()

	if c.isClosed.Load() {
		return
	}
	c.logger.Info("Disconnected from relay",
		zap.Int("active_subs", len(active)),
		zap.Int("pending_subs", len(pending)))
	c.handler.OnDisconnect(c, active, pending)
}

func (c *WsConnection) failWaiters(res okResult) {
	c.okMu.Lock()
	defer c.okMu.Unlock()
	for id, ch := range c.okWaiters {
		delete(c.okWaiters, id)
		ch <- res
	}
}

// Close retires the connection permanently. Safe to call more than once and
// concurrently with a read-loop teardown.
func (c *WsConnection) Close() error {
	var closeErr error
	c.closeMu.Do(func() {
		c.isClosed.Store(true)
		c.logger.Debug("Closing relay connection")

		c.stateMu.Lock()
		ws := c.ws
		c.stateMu.Unlock()

		c.failWaiters(okResult{reason: "connection closing"})

		c.subMu.Lock()
		c.pendingSubs = make(map[string][]nostr.Filter)
		c.activeSubs = make(map[string][]nostr.Filter)
		c.subMu.Unlock()

		if ws != nil {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			closeErr = ws.Close()
		}
		if c.connected.Swap(false) {
			metrics.DecrementActiveConnections()
		}
	})
	return closeErr
}

/* --- |-------------------------------| ---
   --- | 5. State Accessors            | ---
   --- |-------------------------------| --- */

func (c *WsConnection) Address() string { return c.address }

func (c *WsConnection) IsConnected() bool { return c.connected.Load() }

func (c *WsConnection) IsEphemeral() bool { return c.ephemeral }

func (c *WsConnection) Options() models.ConnectOptions {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.opts
}

// SetOptions updates the read/write settings in place. The pool calls this
// when an already tracked address is connected again with new settings.
func (c *WsConnection) SetOptions(opts models.ConnectOptions) {
	c.stateMu.Lock()
	changed := c.opts != opts
	c.opts = opts
	c.stateMu.Unlock()
	if changed {
		c.logger.Debug("Connection settings updated",
			zap.Bool("read", opts.Read),
			zap.Bool("write", opts.Write))
	}
}

func (c *WsConnection) Status() models.RelayStatus {
	c.stateMu.Lock()
	opts := c.opts
	at := c.connectedAt
	c.stateMu.Unlock()

	return models.RelayStatus{
		Address:     c.address,
		Connected:   c.connected.Load(),
		Ephemeral:   c.ephemeral,
		Read:        opts.Read,
		Write:       opts.Write,
		ConnectedAt: at,
	}
}

// Subscriptions returns the ids currently tracked on this connection,
// split into active (EOSE seen) and pending.
func (c *WsConnection) Subscriptions() (active, pending []string) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for id := range c.activeSubs {
		active = append(active, id)
	}
	for id := range c.pendingSubs {
		pending = append(pending, id)
	}
	return active, pending
}
