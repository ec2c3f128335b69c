package query

import (
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/store"
)

type fanoutCall struct {
	id      string
	filters []nostr.Filter
	relays  []string
}

type fakeFanout struct {
	mu      sync.Mutex
	fanouts []fanoutCall
	closes  []string
}

func (f *fakeFanout) FanOut(id string, filters []nostr.Filter, relays []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanouts = append(f.fanouts, fanoutCall{id: id, filters: filters, relays: relays})
}

func (f *fakeFanout) CloseSubscription(id string, relays []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, id)
}

func (f *fakeFanout) fanoutCalls() []fanoutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fanoutCall(nil), f.fanouts...)
}

func (f *fakeFanout) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closes...)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeFanout, *Publisher, *clock.Mock) {
	t.Helper()
	fan := &fakeFanout{}
	pub := NewPublisher()
	mock := clock.NewMock()
	reg := NewRegistry(fan, pub, mock)
	return reg, fan, pub, mock
}

func feedRequest(filters ...nostr.Filter) *models.Request {
	return &models.Request{ID: "feed", Filters: filters}
}

func TestSubmitNilRequest(t *testing.T) {
	reg, fan, _, _ := newTestRegistry(t)

	st := reg.Submit(store.Flat, nil)
	require.NotNil(t, st)
	require.False(t, st.Loading())
	require.Equal(t, 0, reg.Size())
	require.Empty(t, fan.fanoutCalls())
}

func TestSubmitRegistersAndFansOut(t *testing.T) {
	reg, fan, pub, _ := newTestRegistry(t)

	st := reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	require.NotNil(t, st)
	require.True(t, st.Loading())
	require.Equal(t, 1, reg.Size())

	calls := fan.fanoutCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "feed", calls[0].id)

	snap := pub.Get()
	require.Equal(t, uint64(1), snap.Serial)
	require.Len(t, snap.Queries, 1)
	require.Equal(t, "feed", snap.Queries[0].ID)
	require.False(t, snap.Queries[0].Closing)
	require.True(t, snap.Queries[0].Loading)
}

func TestSubmitUnchangedCausesNoTraffic(t *testing.T) {
	reg, fan, _, _ := newTestRegistry(t)
	filters := []nostr.Filter{{Kinds: []int{1}, Authors: []string{"a"}}}

	st1 := reg.Submit(store.Flat, feedRequest(filters...))
	st2 := reg.Submit(store.Flat, feedRequest(filters...))

	require.True(t, st1 == st2, "resubmission must return the same store")
	require.Len(t, fan.fanoutCalls(), 1)
}

func TestSubmitChangedAllocatesContinuation(t *testing.T) {
	reg, fan, _, _ := newTestRegistry(t)

	st1 := reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a"}}))
	st2 := reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a", "b"}}))
	require.True(t, st1 == st2, "continuation must feed the parent's store")
	require.True(t, st2.Loading())

	calls := fan.fanoutCalls()
	require.Len(t, calls, 2)
	require.Equal(t, "feed-1", calls[1].id)
	require.Equal(t, []string{"a", "b"}, calls[1].filters[0].Authors,
		"continuation carries the full new filter set")

	// The next revision gets the next ordinal.
	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a", "b", "c"}}))
	calls = fan.fanoutCalls()
	require.Len(t, calls, 3)
	require.Equal(t, "feed-2", calls[2].id)
}

func TestSubmitSkipDiffForcesResend(t *testing.T) {
	reg, fan, _, _ := newTestRegistry(t)
	filters := []nostr.Filter{{Kinds: []int{1}}}

	reg.Submit(store.Flat, &models.Request{ID: "feed", Filters: filters})
	reg.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: filters,
		Options: models.RequestOptions{SkipDiff: true},
	})

	calls := fan.fanoutCalls()
	require.Len(t, calls, 2)
	require.Equal(t, "feed-1", calls[1].id)
}

func TestSubmitRevivesPendingClose(t *testing.T) {
	reg, fan, pub, _ := newTestRegistry(t)
	filters := []nostr.Filter{{Kinds: []int{1}}}

	reg.Submit(store.Flat, feedRequest(filters...))
	reg.Cancel("feed")
	require.True(t, pub.Get().Queries[0].Closing)

	// Same filters: revived without new traffic, closing flag drops.
	reg.Submit(store.Flat, feedRequest(filters...))
	require.False(t, pub.Get().Queries[0].Closing)
	require.Len(t, fan.fanoutCalls(), 1)

	require.Zero(t, reg.RemoveExpired())
	require.Equal(t, 1, reg.Size())
}

func TestCancelHonorsLeaveOpen(t *testing.T) {
	reg, _, pub, _ := newTestRegistry(t)

	reg.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{1}}},
		Options: models.RequestOptions{LeaveOpen: true},
	})
	reg.Cancel("feed")

	require.False(t, pub.Get().Queries[0].Closing)
	require.Zero(t, reg.RemoveExpired())
	require.Equal(t, 1, reg.Size())
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	reg, _, pub, _ := newTestRegistry(t)
	before := pub.Get().Serial
	reg.Cancel("ghost")
	require.Equal(t, before, pub.Get().Serial)
}

func TestRemoveExpiredEvictsAndRepublishesOnce(t *testing.T) {
	reg, fan, pub, _ := newTestRegistry(t)

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a"}}))
	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a", "b"}}))
	reg.Cancel("feed")

	serialBefore := pub.Get().Serial
	require.Equal(t, 1, reg.RemoveExpired())
	require.Equal(t, 0, reg.Size())

	// Close frames go out for the parent and every continuation.
	require.ElementsMatch(t, []string{"feed", "feed-1"}, fan.closedIDs())

	// Exactly one republish for the whole sweep.
	require.Equal(t, serialBefore+1, pub.Get().Serial)
	require.Empty(t, pub.Get().Queries)

	// A second sweep finds nothing.
	require.Zero(t, reg.RemoveExpired())
	require.Equal(t, serialBefore+1, pub.Get().Serial)
}

func TestUncancelPreventsRemoval(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	reg.Cancel("feed")
	reg.Uncancel("feed")

	require.Zero(t, reg.RemoveExpired())
	require.Equal(t, 1, reg.Size())
}

func TestRemoveExpiredAtCancelInstant(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	reg.Cancel("feed")

	// A sweep at the cancel instant already counts the query as due.
	require.Equal(t, 1, reg.RemoveExpired())
	require.Equal(t, 0, reg.Size())
}

func TestLookupExactOnly(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	st := reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a"}}))
	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a", "b"}}))

	got, ok := reg.Lookup("feed")
	require.True(t, ok)
	require.True(t, got == st)

	// Continuation ids are not registry keys.
	_, ok = reg.Lookup("feed-1")
	require.False(t, ok)

	_, ok = reg.Lookup("ghost")
	require.False(t, ok)
}

func TestSetLoaded(t *testing.T) {
	reg, _, pub, _ := newTestRegistry(t)

	st := reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	require.True(t, st.Loading())

	serialBefore := pub.Get().Serial
	require.True(t, reg.SetLoaded("feed"))
	require.False(t, st.Loading())
	require.Equal(t, serialBefore+1, pub.Get().Serial)

	// Already loaded: known id, no republish.
	require.True(t, reg.SetLoaded("feed"))
	require.Equal(t, serialBefore+1, pub.Get().Serial)

	require.False(t, reg.SetLoaded("ghost"))
}

func TestActiveSubscriptionsTrackCurrentRevision(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a"}}))
	specs := reg.ActiveSubscriptions()
	require.Len(t, specs, 1)
	require.Equal(t, "feed", specs[0].ID)

	// After a revision, replay uses the continuation id and the new set.
	reg.Submit(store.Flat, feedRequest(nostr.Filter{Authors: []string{"a", "b"}}))
	specs = reg.ActiveSubscriptions()
	require.Len(t, specs, 1)
	require.Equal(t, "feed-1", specs[0].ID)
	require.Equal(t, []string{"a", "b"}, specs[0].Filters[0].Authors)

	// Pending-close queries are not replayed.
	reg.Cancel("feed")
	require.Empty(t, reg.ActiveSubscriptions())
}

func TestSnapshotProjection(t *testing.T) {
	reg, _, pub, _ := newTestRegistry(t)

	reg.Submit(store.Flat, &models.Request{ID: "zeta", Filters: []nostr.Filter{{Kinds: []int{1}}}})
	reg.Submit(store.Flat, &models.Request{ID: "alpha", Filters: []nostr.Filter{{Kinds: []int{0}}}})
	reg.Submit(store.Flat, &models.Request{ID: "alpha", Filters: []nostr.Filter{{Kinds: []int{0, 3}}}})

	snap := pub.Get()
	require.Len(t, snap.Queries, 2)
	require.Equal(t, "alpha", snap.Queries[0].ID, "snapshot is sorted by id")
	require.Equal(t, "zeta", snap.Queries[1].ID)

	alpha := snap.Queries[0]
	require.Equal(t, []int{0, 3}, alpha.Filters[0].Kinds, "current filters follow the latest revision")
	require.Len(t, alpha.SubFilters, 1, "continuation filters are flattened in")

	// Published snapshots are stable objects: a later mutation replaces the
	// snapshot instead of changing it.
	reg.Submit(store.Flat, &models.Request{ID: "gamma", Filters: []nostr.Filter{{Kinds: []int{7}}}})
	require.Len(t, snap.Queries, 2)
	require.Len(t, pub.Get().Queries, 3)
	require.Greater(t, pub.Get().Serial, snap.Serial)
}

func TestSubmitRelayAllowListReachesFanout(t *testing.T) {
	reg, fan, _, _ := newTestRegistry(t)

	reg.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{1}}},
		Options: models.RequestOptions{Relays: []string{"wss://only.example.com"}},
	})

	calls := fan.fanoutCalls()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"wss://only.example.com"}, calls[0].relays)
}
