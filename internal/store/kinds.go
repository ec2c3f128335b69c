package store

import (
	nostr "github.com/nbd-wtf/go-nostr"
)

// IsEphemeralKind returns true for kinds relays deliver but never persist
// (20000 <= kind < 30000).
func IsEphemeralKind(kind int) bool {
	return kind >= 20000 && kind < 30000
}

// IsReplaceableKind returns true for kinds where only the newest event per
// author is meaningful (0, 3, 41, and 10000 <= kind < 20000).
func IsReplaceableKind(kind int) bool {
	return kind == 0 || kind == 3 || kind == 41 ||
		(kind >= 10000 && kind < 20000)
}

// IsAddressableKind returns true for kinds where only the newest event per
// author and d-tag is meaningful (30000 <= kind < 40000).
func IsAddressableKind(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// DTag returns the first d-tag value of the event, or "" if absent.
func DTag(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return ""
}

// ForFilters suggests the store type matching a filter set: if every
// requested kind falls in one replaceable class the corresponding latest
// store applies, otherwise events accumulate flat. Filters without kinds
// stay flat.
func ForFilters(filters []nostr.Filter) Type {
	allReplaceable := true
	allAddressable := true
	sawKind := false

	for _, f := range filters {
		if len(f.Kinds) == 0 {
			return Flat
		}
		for _, kind := range f.Kinds {
			sawKind = true
			if !IsReplaceableKind(kind) {
				allReplaceable = false
			}
			if !IsAddressableKind(kind) {
				allAddressable = false
			}
		}
	}
	if !sawKind {
		return Flat
	}
	if allReplaceable {
		return ReplaceableLatest
	}
	if allAddressable {
		return ParameterizedReplaceableLatest
	}
	return Flat
}
