package query

import (
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func ts(v int64) *nostr.Timestamp {
	t := nostr.Timestamp(v)
	return &t
}

func TestFiltersEqualIdentity(t *testing.T) {
	sets := [][]nostr.Filter{
		nil,
		{},
		{{Kinds: []int{1}}},
		{{Kinds: []int{0, 1}, Authors: []string{"a", "b"}, Limit: 50}},
		{{IDs: []string{"x"}}, {Tags: nostr.TagMap{"e": {"target"}}, Since: ts(100)}},
		{{Search: "hello", Until: ts(200)}},
	}
	for _, set := range sets {
		require.True(t, FiltersEqual(set, set))
		clone := append([]nostr.Filter(nil), set...)
		require.True(t, FiltersEqual(set, clone))
	}
}

func TestFiltersEqualDetectsChanges(t *testing.T) {
	base := []nostr.Filter{{
		Kinds:   []int{1, 6},
		Authors: []string{"a", "b"},
		Tags:    nostr.TagMap{"e": {"x"}},
		Since:   ts(100),
		Limit:   20,
	}}

	tests := []struct {
		name string
		b    []nostr.Filter
	}{
		{"extra filter", append(append([]nostr.Filter(nil), base...), nostr.Filter{Kinds: []int{7}})},
		{"fewer filters", nil},
		{"different kind", []nostr.Filter{{Kinds: []int{1, 7}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 20}}},
		{"kind order", []nostr.Filter{{Kinds: []int{6, 1}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 20}}},
		{"author added", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b", "c"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 20}}},
		{"author order", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"b", "a"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 20}}},
		{"tag value", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"y"}}, Since: ts(100), Limit: 20}}},
		{"tag key", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"p": {"x"}}, Since: ts(100), Limit: 20}}},
		{"tag dropped", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Since: ts(100), Limit: 20}}},
		{"since moved", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(101), Limit: 20}}},
		{"since nil", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Limit: 20}}},
		{"until added", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Until: ts(500), Limit: 20}}},
		{"limit", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 21}}},
		{"search", []nostr.Filter{{Kinds: []int{1, 6}, Authors: []string{"a", "b"}, Tags: nostr.TagMap{"e": {"x"}}, Since: ts(100), Limit: 20, Search: "q"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, FiltersEqual(base, tt.b))
		})
	}
}

func TestFiltersEqualOrderSensitiveList(t *testing.T) {
	a := []nostr.Filter{{Kinds: []int{0}}, {Kinds: []int{1}}}
	b := []nostr.Filter{{Kinds: []int{1}}, {Kinds: []int{0}}}
	require.False(t, FiltersEqual(a, b))
}

func TestFiltersEqualEmptyAndNil(t *testing.T) {
	require.True(t, FiltersEqual(nil, nil))
	require.True(t, FiltersEqual(nil, []nostr.Filter{}))
	require.True(t, FiltersEqual([]nostr.Filter{}, nil))
}
