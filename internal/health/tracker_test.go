package health

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shugur-Network/lens/internal/constants"
)

func TestTrackerUnknownAddressAllowed(t *testing.T) {
	tr := NewTracker(clock.NewMock())

	assert.True(t, tr.AllowRetry("wss://relay.example.com"))
	_, ok := tr.Status("wss://relay.example.com")
	assert.False(t, ok)
}

func TestTrackerFirstFailureBacksOff(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)

	tr.ReportFailure("wss://relay.example.com")
	assert.False(t, tr.AllowRetry("wss://relay.example.com"))

	mock.Add(constants.HealthBackoffBase)
	assert.True(t, tr.AllowRetry("wss://relay.example.com"), "window elapsed")
}

func TestTrackerBackoffDoubles(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)

	tr.ReportFailure("wss://relay.example.com")
	tr.ReportFailure("wss://relay.example.com")

	mock.Add(constants.HealthBackoffBase)
	assert.False(t, tr.AllowRetry("wss://relay.example.com"), "second failure doubles the wait")

	mock.Add(constants.HealthBackoffBase)
	assert.True(t, tr.AllowRetry("wss://relay.example.com"))
}

func TestTrackerBackoffCap(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)

	for i := 0; i < 20; i++ {
		tr.ReportFailure("wss://relay.example.com")
	}

	h, ok := tr.Status("wss://relay.example.com")
	require.True(t, ok)
	assert.Equal(t, 20, h.Failures)
	assert.Equal(t, mock.Now().Add(constants.HealthBackoffMax), h.NextAttempt)
}

func TestBackoffProgression(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 160 * time.Second},
		{7, constants.HealthBackoffMax},
		{50, constants.HealthBackoffMax},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffFor(tc.failures), "failures=%d", tc.failures)
	}
}

func TestTrackerSuccessClearsBackoff(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)

	tr.ReportFailure("wss://relay.example.com")
	tr.ReportFailure("wss://relay.example.com")
	require.False(t, tr.AllowRetry("wss://relay.example.com"))

	tr.ReportSuccess("wss://relay.example.com")

	assert.True(t, tr.AllowRetry("wss://relay.example.com"))
	h, ok := tr.Status("wss://relay.example.com")
	require.True(t, ok)
	assert.Zero(t, h.Failures)
	assert.False(t, h.BackingOff)
	assert.Equal(t, mock.Now(), h.LastSuccess)
	assert.Zero(t, tr.BackingOff())
}

func TestTrackerBackingOffCount(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)

	tr.ReportFailure("wss://a.example.com")
	tr.ReportFailure("wss://b.example.com")
	tr.ReportSuccess("wss://c.example.com")

	assert.Equal(t, 2, tr.BackingOff())

	mock.Add(constants.HealthBackoffBase)
	assert.Zero(t, tr.BackingOff())
}

func TestTrackerSnapshotSorted(t *testing.T) {
	tr := NewTracker(clock.NewMock())

	tr.ReportFailure("wss://b.example.com")
	tr.ReportSuccess("wss://a.example.com")
	tr.ReportFailure("wss://c.example.com")

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "wss://a.example.com", snap[0].Address)
	assert.Equal(t, "wss://b.example.com", snap[1].Address)
	assert.Equal(t, "wss://c.example.com", snap[2].Address)
	assert.True(t, snap[1].BackingOff)
	assert.False(t, snap[0].BackingOff)
}

func TestTrackerForget(t *testing.T) {
	tr := NewTracker(clock.NewMock())

	tr.ReportFailure("wss://relay.example.com")
	tr.Forget("wss://relay.example.com")

	_, ok := tr.Status("wss://relay.example.com")
	assert.False(t, ok)
	assert.True(t, tr.AllowRetry("wss://relay.example.com"))
}
