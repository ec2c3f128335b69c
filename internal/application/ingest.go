package application

import (
	"sync"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/willf/bloom"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/cache"
	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/query"
	"github.com/Shugur-Network/lens/internal/relay"
	"github.com/Shugur-Network/lens/internal/store"
	"github.com/Shugur-Network/lens/internal/workers"
)

// IngestGate is the engine's inbound pipeline, registered as the handler of
// every pooled connection. Each event passes a duplicate pre-filter, a
// signature check and, when it carries a delegation tag, a delegation proof
// before it is routed into its query's store; events of cached kinds
// additionally fan into the record cache on the worker pool.
//
// The duplicate filter runs before signature verification so repeat
// deliveries across relays never pay the verification cost. It is scoped per
// parent query: the same event feeding two different queries is not a
// duplicate.
type IngestGate struct {
	log      *zap.Logger
	registry *query.Registry
	ingestor *cache.Ingestor
	workers  *workers.WorkerPool
	tracker  *health.Tracker

	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

var _ domain.ConnectionHandler = (*IngestGate)(nil)

// NewIngestGate wires the inbound pipeline. tracker may be nil when no
// reconnect supervision is wanted.
func NewIngestGate(registry *query.Registry, ingestor *cache.Ingestor,
	pool *workers.WorkerPool, tracker *health.Tracker) *IngestGate {
	return &IngestGate{
		log:      logger.New("ingest"),
		registry: registry,
		ingestor: ingestor,
		workers:  pool,
		tracker:  tracker,
		seen:     bloom.NewWithEstimates(constants.SeenFilterCapacity, constants.SeenFilterFPRate),
	}
}

// OnEvent routes one inbound event into its query's store. The wire id is
// resolved against the registry exactly first, then by truncating a
// continuation suffix, so "abc-2" feeds the same store as "abc".
func (g *IngestGate) OnEvent(subID string, evt *nostr.Event) {
	if evt == nil {
		return
	}

	st, queryID, ok := g.resolve(subID)
	if !ok {
		metrics.EventsDropped.WithLabelValues("unknown_subscription").Inc()
		g.log.Debug("Event for unknown subscription dropped",
			zap.String("sub_id", subID),
			zap.String("event_id", evt.ID))
		return
	}

	if g.isRepeat(queryID, evt.ID) {
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return
	}

	if valid, err := evt.CheckSignature(); err != nil || !valid {
		metrics.EventsDropped.WithLabelValues("invalid_signature").Inc()
		g.log.Warn("Event with invalid signature dropped",
			zap.String("event_id", evt.ID),
			zap.String("pubkey", evt.PubKey),
			zap.Error(err))
		return
	}

	if del := delegationOf(evt); del != nil {
		if err := verifyDelegation(evt, del); err != nil {
			metrics.EventsDropped.WithLabelValues("invalid_delegation").Inc()
			g.log.Warn("Event with invalid delegation dropped",
				zap.String("event_id", evt.ID),
				zap.String("pubkey", evt.PubKey),
				zap.Error(err))
			return
		}
	}

	st.Add(evt)

	if cache.CachedKind(evt.Kind) {
		g.workers.Submit(func() { g.ingestor.Ingest(evt) })
	}
}

// OnEndOfStoredEvents clears the loading flag of the addressed query.
func (g *IngestGate) OnEndOfStoredEvents(subID string) {
	if g.registry.SetLoaded(subID) {
		return
	}
	if sid := relay.ParseSubID(subID); sid.Continuation > 0 {
		if g.registry.SetLoaded(sid.Parent) {
			return
		}
	}
	g.log.Debug("EOSE for unknown subscription dropped", zap.String("sub_id", subID))
}

// OnDisconnect starts the backoff window so the reconnect supervisor does
// not hammer a flapping relay.
func (g *IngestGate) OnDisconnect(conn domain.RelayConnection, active, pending []string) {
	if conn.IsEphemeral() {
		return
	}
	if g.tracker != nil {
		g.tracker.ReportFailure(conn.Address())
	}
	g.log.Info("Relay dropped, awaiting reconnect",
		zap.String("address", conn.Address()),
		zap.Int("active_subs", len(active)),
		zap.Int("pending_subs", len(pending)))
}

func (g *IngestGate) OnConnected(conn domain.RelayConnection) {
	if conn.IsEphemeral() {
		return
	}
	if g.tracker != nil {
		g.tracker.ReportSuccess(conn.Address())
	}
}

// resolve maps a wire subscription id to its query's store. Exact registry
// ids win over suffix truncation, protecting caller-chosen ids that happen
// to end in "-<digits>".
func (g *IngestGate) resolve(subID string) (store.Store, string, bool) {
	if st, ok := g.registry.Lookup(subID); ok {
		return st, subID, true
	}
	if sid := relay.ParseSubID(subID); sid.Continuation > 0 {
		if st, ok := g.registry.Lookup(sid.Parent); ok {
			return st, sid.Parent, true
		}
	}
	return nil, "", false
}

func (g *IngestGate) isRepeat(queryID, eventID string) bool {
	key := queryID + ":" + eventID
	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	if g.seen.TestString(key) {
		return true
	}
	g.seen.AddString(key)
	return false
}
