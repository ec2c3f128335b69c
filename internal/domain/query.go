package domain

import nostr "github.com/nbd-wtf/go-nostr"

// SubscriptionSpec describes one live subscription as it should appear on
// the wire: the id currently carrying it, the filters, and an optional
// allow-list of relay addresses.
type SubscriptionSpec struct {
	ID      string
	Filters []nostr.Filter
	Relays  []string // empty means every readable connection
}

// SubscriptionSource yields the subscriptions that should be live right now.
// The connection pool replays them onto every freshly established readable
// connection.
type SubscriptionSource interface {
	ActiveSubscriptions() []SubscriptionSpec
}
