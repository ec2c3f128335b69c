package query

import (
	"testing"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/store"
)

// advance pushes the mock clock forward one sweep interval at a time,
// yielding between steps so the loop goroutine can arm its timer.
func advance(mock interface{ Add(time.Duration) }, steps int) {
	for i := 0; i < steps; i++ {
		time.Sleep(10 * time.Millisecond)
		mock.Add(constants.JanitorInterval)
	}
}

func TestJanitorRemovesCanceledQueryOnTick(t *testing.T) {
	reg, fan, pub, mock := newTestRegistry(t)
	j := NewJanitor(reg, mock)
	j.Start()
	defer j.Stop()

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	reg.Cancel("feed")
	serialAfterCancel := pub.Get().Serial

	advance(mock, 2)
	require.Eventually(t, func() bool { return reg.Size() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.Contains(t, fan.closedIDs(), "feed")
	require.Equal(t, serialAfterCancel+1, pub.Get().Serial,
		"the sweep republishes exactly once")
}

func TestJanitorLeavesOpenQueriesAlone(t *testing.T) {
	reg, fan, _, mock := newTestRegistry(t)
	j := NewJanitor(reg, mock)
	j.Start()
	defer j.Stop()

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))

	advance(mock, 3)
	require.Equal(t, 1, reg.Size())
	require.Empty(t, fan.closedIDs())
}

func TestJanitorUncancelBeforeTickPreventsRemoval(t *testing.T) {
	reg, _, _, mock := newTestRegistry(t)
	j := NewJanitor(reg, mock)
	j.Start()
	defer j.Stop()

	reg.Submit(store.Flat, feedRequest(nostr.Filter{Kinds: []int{1}}))
	reg.Cancel("feed")
	reg.Uncancel("feed")

	advance(mock, 2)
	require.Equal(t, 1, reg.Size())
}

func TestJanitorStopIsSafe(t *testing.T) {
	reg, _, _, mock := newTestRegistry(t)

	// Stop before Start must not hang.
	j := NewJanitor(reg, mock)
	require.NotPanics(t, j.Stop)

	// Stop after Start is idempotent.
	j2 := NewJanitor(reg, mock)
	j2.Start()
	j2.Stop()
	require.NotPanics(t, j2.Stop)

	// Start after Stop stays stopped.
	j2.Start()
}

func TestJanitorIntervalIsOneSecond(t *testing.T) {
	require.Equal(t, time.Second, constants.JanitorInterval)
}
