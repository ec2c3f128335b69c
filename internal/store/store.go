package store

import (
	"fmt"
	"sort"
	"sync"

	nostr "github.com/nbd-wtf/go-nostr"
)

// Type selects the dedup rule of a note store.
type Type int

const (
	// Flat keeps every distinct event, deduplicated by event id.
	Flat Type = iota
	// PubkeyLatest keeps the newest event per author.
	PubkeyLatest
	// ReplaceableLatest keeps the newest event per author and kind.
	ReplaceableLatest
	// ParameterizedReplaceableLatest keeps the newest event per author,
	// kind and d-tag identifier.
	ParameterizedReplaceableLatest
)

func (t Type) String() string {
	switch t {
	case Flat:
		return "flat"
	case PubkeyLatest:
		return "pubkey_latest"
	case ReplaceableLatest:
		return "replaceable_latest"
	case ParameterizedReplaceableLatest:
		return "parameterized_replaceable_latest"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Store is a per-query result container. Add is idempotent per the variant's
// dedup key; Events returns a read-only view of current contents. Stores are
// shared by reference with consumers and carry their own lock, so reads never
// touch the engine's control path.
type Store interface {
	// Add ingests one event and reports whether the contents changed.
	Add(evt *nostr.Event) bool
	// Len returns the number of retained events.
	Len() int
	// Events returns the retained events, newest first with id tiebreak.
	// The view is materialized lazily and cached until the next mutation.
	// Callers must not mutate the returned slice.
	Events() []*nostr.Event
	// SetLoading flips the loading flag; set by the registry while a
	// subscription revision is awaiting stored events.
	SetLoading(loading bool)
	// Loading reports whether stored events are still being delivered.
	Loading() bool
}

// New creates an empty store of the given type.
func New(t Type) Store {
	s := &noteStore{
		entries: make(map[string]*nostr.Event),
		replace: t != Flat,
	}
	switch t {
	case PubkeyLatest:
		s.keyFn = func(evt *nostr.Event) string { return evt.PubKey }
	case ReplaceableLatest:
		s.keyFn = func(evt *nostr.Event) string {
			return fmt.Sprintf("%s:%d", evt.PubKey, evt.Kind)
		}
	case ParameterizedReplaceableLatest:
		s.keyFn = func(evt *nostr.Event) string {
			return fmt.Sprintf("%s:%d:%s", evt.PubKey, evt.Kind, DTag(evt))
		}
	default:
		s.keyFn = func(evt *nostr.Event) string { return evt.ID }
	}
	return s
}

type noteStore struct {
	mu      sync.Mutex
	keyFn   func(*nostr.Event) string
	replace bool // replace-if-strictly-newer instead of first-write-wins

	entries map[string]*nostr.Event
	view    []*nostr.Event
	dirty   bool
	loading bool
}

func (s *noteStore) Add(evt *nostr.Event) bool {
	if evt == nil {
		return false
	}
	key := s.keyFn(evt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		// Same key: flat stores never overwrite, latest stores only on a
		// strictly greater creation time.
		if !s.replace || evt.CreatedAt <= existing.CreatedAt {
			return false
		}
	}
	s.entries[key] = evt
	s.dirty = true
	return true
}

func (s *noteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *noteStore) Events() []*nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty || s.view == nil {
		view := make([]*nostr.Event, 0, len(s.entries))
		for _, evt := range s.entries {
			view = append(view, evt)
		}
		sort.Slice(view, func(i, j int) bool {
			if view[i].CreatedAt != view[j].CreatedAt {
				return view[i].CreatedAt > view[j].CreatedAt
			}
			return view[i].ID < view[j].ID
		})
		s.view = view
		s.dirty = false
	}
	return s.view
}

func (s *noteStore) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

func (s *noteStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}
