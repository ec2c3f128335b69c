package models

import (
	nostr "github.com/nbd-wtf/go-nostr"
)

// Request is a caller-supplied subscription request. The engine performs no
// semantic validation of filter contents beyond structural diffing.
type Request struct {
	ID      string         `json:"id"`      // Caller-chosen subscription identifier, unique per query
	Filters []nostr.Filter `json:"filters"` // Declarative predicates describing the wanted events
	Options RequestOptions `json:"options"` // Per-query behavior tweaks
}

// RequestOptions tweak how a single query behaves.
type RequestOptions struct {
	LeaveOpen bool     `json:"leave_open,omitempty"` // Keep the query open; Cancel becomes a no-op
	Relays    []string `json:"relays,omitempty"`     // Restrict fan-out to these relay addresses
	SkipDiff  bool     `json:"skip_diff,omitempty"`  // Force a resend even when the filters are unchanged
}

// ConnectOptions describe the capabilities requested for a relay connection.
type ConnectOptions struct {
	Read  bool `json:"read"`  // Subscriptions may be fanned out to this relay
	Write bool `json:"write"` // Events may be broadcast to this relay
}

// DefaultConnectOptions is the full-duplex default for persistent relays.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{Read: true, Write: true}
}
