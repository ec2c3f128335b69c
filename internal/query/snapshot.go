package query

import (
	"sync"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
)

// QueryView is one query's entry in a snapshot.
type QueryView struct {
	ID         string         `json:"id"`
	Filters    []nostr.Filter `json:"filters"`
	SubFilters []nostr.Filter `json:"sub_filters,omitempty"` // flattened continuation filters
	Closing    bool           `json:"closing"`
	Loading    bool           `json:"loading"`
	Events     int            `json:"events"`
}

// Snapshot is an immutable projection of the registry. It is replaced
// wholesale on every mutation and never modified in place.
type Snapshot struct {
	Queries []QueryView `json:"queries"`
	Taken   time.Time   `json:"taken"`
	Serial  uint64      `json:"serial"`
}

// Observer is notified after a new snapshot is published. It carries no
// payload; observers re-read the current snapshot through Get.
type Observer func()

type observerEntry struct {
	id uint64
	fn Observer
}

// Publisher rebuilds and distributes snapshots. Observers are invoked
// synchronously, in registration order, outside any lock, so they may read
// the snapshot, register, or unregister from inside a notification.
type Publisher struct {
	log *zap.Logger

	mu        sync.Mutex
	source    func() *Snapshot
	current   *Snapshot
	observers []observerEntry
	nextID    uint64
	serial    uint64
}

// NewPublisher creates a publisher with an empty initial snapshot. Bind must
// be called during wiring before the first Publish.
func NewPublisher() *Publisher {
	return &Publisher{
		log:     logger.New("snapshot"),
		current: &Snapshot{Taken: time.Now()},
	}
}

// Bind installs the projection source the publisher rebuilds from.
func (p *Publisher) Bind(source func() *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

// Get returns the most recently published snapshot.
func (p *Publisher) Get() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Hook registers an observer and returns its unsubscribe function. The
// returned function is idempotent.
func (p *Publisher) Hook(fn Observer) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers = append(p.observers, observerEntry{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, e := range p.observers {
			if e.id == id {
				p.observers = append(p.observers[:i], p.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish rebuilds the snapshot and notifies every observer. The observer
// list is copied at round start: an observer unregistering mid-round still
// receives this round's notification and is excluded from the next.
func (p *Publisher) Publish() {
	p.mu.Lock()
	if p.source == nil {
		p.mu.Unlock()
		return
	}
	snap := p.source()
	p.serial++
	snap.Serial = p.serial
	p.current = snap

	round := make([]observerEntry, len(p.observers))
	copy(round, p.observers)
	p.mu.Unlock()

	metrics.SnapshotsPublished.Inc()
	for _, e := range round {
		e.fn()
	}
}

// ObserverCount reports how many observers are currently registered.
func (p *Publisher) ObserverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}
