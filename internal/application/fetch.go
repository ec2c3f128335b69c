package application

import (
	"context"
	"sync"

	"github.com/google/uuid"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/relay"
)

// FetchOnce reads the stored events matching filters from a single relay
// over a fresh ephemeral connection: subscribe under a one-shot id, collect
// until the relay signals end-of-stored-events or ctx ends, then close. The
// events are returned unverified; callers routing them into stores should
// check signatures the way the ingest gate does.
func (e *Engine) FetchOnce(ctx context.Context, address string, filters []nostr.Filter) ([]*nostr.Event, error) {
	norm, err := relay.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	subID := "once-" + uuid.NewString()
	collector := newCollector(subID)
	conn := e.factory.NewConnection(norm, models.ConnectOptions{Read: true}, true, collector)
	defer func() { _ = conn.Close() }()

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if err := conn.SendSubscription(subID, filters); err != nil {
		return nil, err
	}

	select {
	case <-collector.eose:
	case <-collector.dropped:
		logger.New("fetch").Debug("Relay dropped during one-shot fetch",
			zap.String("address", norm))
	case <-ctx.Done():
		_ = conn.SendClose(subID)
		return collector.events(), ctx.Err()
	}

	_ = conn.SendClose(subID)
	return collector.events(), nil
}

// collector gathers one subscription's events until EOSE. It is the
// connection handler of the one-shot connection, so nothing here touches
// the engine's registry.
type collector struct {
	subID string

	mu   sync.Mutex
	evts []*nostr.Event

	eoseOnce sync.Once
	eose     chan struct{}
	dropOnce sync.Once
	dropped  chan struct{}
}

func newCollector(subID string) *collector {
	return &collector{
		subID:   subID,
		eose:    make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

func (c *collector) OnEvent(subID string, evt *nostr.Event) {
	if subID != c.subID || evt == nil {
		return
	}
	c.mu.Lock()
	c.evts = append(c.evts, evt)
	c.mu.Unlock()
}

func (c *collector) OnEndOfStoredEvents(subID string) {
	if subID != c.subID {
		return
	}
	c.eoseOnce.Do(func() { close(c.eose) })
}

func (c *collector) OnDisconnect(conn domain.RelayConnection, active, pending []string) {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *collector) OnConnected(conn domain.RelayConnection) {}

func (c *collector) events() []*nostr.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*nostr.Event, len(c.evts))
	copy(out, c.evts)
	return out
}
