package models

import "time"

// RelayStatus is the externally visible state of one pooled connection.
type RelayStatus struct {
	Address     string    `json:"address"`      // Normalized relay URL
	Connected   bool      `json:"connected"`    // Whether the socket is currently established
	Ephemeral   bool      `json:"ephemeral"`    // Short-lived connection opened for a single operation
	Read        bool      `json:"read"`         // Subscriptions are fanned out to this relay
	Write       bool      `json:"write"`        // Events are broadcast to this relay
	ConnectedAt time.Time `json:"connected_at"` // When the current session was established (zero if never)
}
