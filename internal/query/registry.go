package query

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/store"
)

// Fanout is the slice of the connection pool the registry drives: opening
// subscriptions on the connected relays and closing them again.
type Fanout interface {
	FanOut(id string, filters []nostr.Filter, relays []string)
	CloseSubscription(id string, relays []string)
}

// continuation is one revision of a query's filters, opened under its own
// wire id while the previous revision keeps running.
type continuation struct {
	seq     int
	id      string
	filters []nostr.Filter
}

// Query is one logical subscription. All fields are guarded by the
// registry's mutex; nothing outside the package touches them directly.
type Query struct {
	id            string
	typ           store.Type
	filters       []nostr.Filter // latest filter set on the wire
	continuations []continuation
	leaveOpen     bool
	relays        []string
	store         store.Store
	closingAt     time.Time // zero while open
}

func (q *Query) pendingClose() bool { return !q.closingAt.IsZero() }

// currentSubID is the wire id carrying the latest filter revision.
func (q *Query) currentSubID() string {
	if n := len(q.continuations); n > 0 {
		return q.continuations[n-1].id
	}
	return q.id
}

// Registry owns every active query. All mutations converge on one mutex;
// network traffic and snapshot publication happen after the lock is
// released, so callbacks can never re-enter a held lock.
type Registry struct {
	log       *zap.Logger
	clock     clock.Clock
	fanout    Fanout
	publisher *Publisher

	mu      sync.Mutex
	queries map[string]*Query
}

// NewRegistry wires a registry to its fan-out target and snapshot publisher
// and binds the publisher's projection source. A nil clk uses wall time.
func NewRegistry(fanout Fanout, publisher *Publisher, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	r := &Registry{
		log:       logger.New("registry"),
		clock:     clk,
		fanout:    fanout,
		publisher: publisher,
		queries:   make(map[string]*Query),
	}
	publisher.Bind(r.BuildSnapshot)
	return r
}

/* --- |-------------------------------| ---
   --- | 1. Submission                 | ---
   --- |-------------------------------| --- */

// Submit registers or revises a query and returns the store receiving its
// results.
//
// A nil request returns a fresh unregistered store and opens nothing on the
// wire. A new id registers a query and fans its filters out. An existing id
// is first revived from pending-close, then diffed: unchanged filters cause
// no traffic; changed filters open a continuation carrying the full new set
// under the next "{id}-{n}" wire id, feeding the same store.
func (r *Registry) Submit(typ store.Type, req *models.Request) store.Store {
	if req == nil {
		return store.New(typ)
	}

	r.mu.Lock()
	q, exists := r.queries[req.ID]
	if !exists {
		q = &Query{
			id:        req.ID,
			typ:       typ,
			filters:   req.Filters,
			leaveOpen: req.Options.LeaveOpen,
			relays:    req.Options.Relays,
			store:     store.New(typ),
		}
		q.store.SetLoading(true)
		r.queries[req.ID] = q
		st := q.store
		relays := q.relays
		r.mu.Unlock()

		metrics.IncrementActiveQueries()
		r.log.Debug("Query registered",
			zap.String("id", req.ID),
			zap.Int("filters", len(req.Filters)),
			zap.String("store", typ.String()))
		r.fanout.FanOut(req.ID, req.Filters, relays)
		r.publisher.Publish()
		return st
	}

	revived := q.pendingClose()
	q.closingAt = time.Time{}
	q.leaveOpen = req.Options.LeaveOpen
	q.relays = req.Options.Relays

	if !req.Options.SkipDiff && FiltersEqual(q.filters, req.Filters) {
		st := q.store
		r.mu.Unlock()

		if revived {
			r.log.Debug("Query revived", zap.String("id", req.ID))
			r.publisher.Publish()
		}
		return st
	}

	seq := len(q.continuations) + 1
	subID := q.id + "-" + strconv.Itoa(seq)
	q.continuations = append(q.continuations, continuation{seq: seq, id: subID, filters: req.Filters})
	q.filters = req.Filters
	q.store.SetLoading(true)
	st := q.store
	relays := q.relays
	r.mu.Unlock()

	metrics.ContinuationsAllocated.Inc()
	r.log.Debug("Continuation allocated",
		zap.String("id", req.ID),
		zap.String("sub_id", subID),
		zap.Int("filters", len(req.Filters)))
	r.fanout.FanOut(subID, req.Filters, relays)
	r.publisher.Publish()
	return st
}

/* --- |-------------------------------| ---
   --- | 2. Lifecycle                  | ---
   --- |-------------------------------| --- */

// Cancel marks the named query pending-close; the sweep loop performs the
// actual teardown. Queries created with LeaveOpen, unknown ids, and repeat
// cancels are no-ops.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	q, ok := r.queries[id]
	if !ok || q.leaveOpen || q.pendingClose() {
		r.mu.Unlock()
		return
	}
	q.closingAt = r.clock.Now()
	r.mu.Unlock()

	r.log.Debug("Query marked for close", zap.String("id", id))
	r.publisher.Publish()
}

// Uncancel reverts a pending-close query to open before the sweep gets to
// it. Unknown ids and open queries are no-ops.
func (r *Registry) Uncancel(id string) {
	r.mu.Lock()
	q, ok := r.queries[id]
	revived := ok && q.pendingClose()
	if revived {
		q.closingAt = time.Time{}
	}
	r.mu.Unlock()

	if revived {
		r.log.Debug("Query revived", zap.String("id", id))
		r.publisher.Publish()
	}
}

// RemoveExpired evicts every query whose close-due time has passed, sending
// close frames for the parent id and all its continuations. The snapshot is
// republished once when at least one query was removed. Returns the number
// of removed queries.
func (r *Registry) RemoveExpired() int {
	now := r.clock.Now()

	r.mu.Lock()
	var victims []*Query
	for id, q := range r.queries {
		if q.pendingClose() && !q.closingAt.After(now) {
			victims = append(victims, q)
			delete(r.queries, id)
		}
	}
	r.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}
	for _, q := range victims {
		r.fanout.CloseSubscription(q.id, q.relays)
		for _, c := range q.continuations {
			r.fanout.CloseSubscription(c.id, q.relays)
		}
		metrics.DecrementActiveQueries()
		metrics.JanitorRemovals.Inc()
		r.log.Info("Expired query removed",
			zap.String("id", q.id),
			zap.Int("continuations", len(q.continuations)))
	}
	r.publisher.Publish()
	return len(victims)
}

/* --- |-------------------------------| ---
   --- | 3. Routing and Introspection  | ---
   --- |-------------------------------| --- */

// Lookup returns the store of the exactly named query. Continuation ids are
// resolved by the transport boundary before calling in here.
func (r *Registry) Lookup(id string) (store.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok {
		return nil, false
	}
	return q.store, true
}

// SetLoaded clears the loading flag of the named query's store, publishing
// a snapshot when the flag actually flipped. Returns whether the id was
// known.
func (r *Registry) SetLoaded(id string) bool {
	r.mu.Lock()
	q, ok := r.queries[id]
	flipped := ok && q.store.Loading()
	if flipped {
		q.store.SetLoading(false)
	}
	r.mu.Unlock()

	if flipped {
		r.publisher.Publish()
	}
	return ok
}

// Size returns the number of registered queries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// ActiveSubscriptions yields the wire subscriptions that should be live:
// one spec per open query, carrying its latest filter revision under its
// current wire id. Pending-close queries are excluded. The pool replays
// these onto every fresh connection.
func (r *Registry) ActiveSubscriptions() []domain.SubscriptionSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	specs := make([]domain.SubscriptionSpec, 0, len(r.queries))
	for _, q := range r.queries {
		if q.pendingClose() {
			continue
		}
		specs = append(specs, domain.SubscriptionSpec{
			ID:      q.currentSubID(),
			Filters: append([]nostr.Filter(nil), q.filters...),
			Relays:  append([]string(nil), q.relays...),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// BuildSnapshot assembles a fresh immutable projection of every tracked
// query, sorted by id.
func (r *Registry) BuildSnapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]QueryView, 0, len(r.queries))
	for _, q := range r.queries {
		var sub []nostr.Filter
		for _, c := range q.continuations {
			sub = append(sub, c.filters...)
		}
		views = append(views, QueryView{
			ID:         q.id,
			Filters:    append([]nostr.Filter(nil), q.filters...),
			SubFilters: sub,
			Closing:    q.pendingClose(),
			Loading:    q.store.Loading(),
			Events:     q.store.Len(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return &Snapshot{Queries: views, Taken: r.clock.Now()}
}
