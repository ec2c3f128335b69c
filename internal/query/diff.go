package query

import (
	nostr "github.com/nbd-wtf/go-nostr"
)

// FiltersEqual reports whether two filter lists are structurally identical.
// The comparison is order-sensitive on the list and on every slice field
// inside each filter: a reordered but otherwise identical list counts as
// changed and is re-sent to the relays. Reordering carries no meaning in the
// protocol, but treating it as a change keeps the comparison cheap and
// deterministic.
func FiltersEqual(a, b []nostr.Filter) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !filterEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func filterEqual(a, b nostr.Filter) bool {
	if a.Limit != b.Limit || a.Search != b.Search {
		return false
	}
	if !stringsEqual(a.IDs, b.IDs) {
		return false
	}
	if !stringsEqual(a.Authors, b.Authors) {
		return false
	}
	if !intsEqual(a.Kinds, b.Kinds) {
		return false
	}
	if !timestampsEqual(a.Since, b.Since) || !timestampsEqual(a.Until, b.Until) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for name, av := range a.Tags {
		bv, ok := b.Tags[name]
		if !ok || !stringsEqual(av, bv) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func timestampsEqual(a, b *nostr.Timestamp) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
