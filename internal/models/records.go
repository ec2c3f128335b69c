package models

import (
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
)

// ProfileRecord is one cached profile/metadata entry, created from the first
// successfully parsed kind-0 event for a pubkey and superseded wholesale by a
// later event with a strictly greater created_at.
type ProfileRecord struct {
	Pubkey          string            `json:"pubkey"`                // Hex author key, the primary cache key
	Address         string            `json:"address,omitempty"`     // Encoded address form (opaque here, produced elsewhere)
	Name            string            `json:"name,omitempty"`        // Short handle from the profile content
	DisplayName     string            `json:"display_name,omitempty"`
	About           string            `json:"about,omitempty"`
	Picture         string            `json:"picture,omitempty"`
	Nip05           string            `json:"nip05,omitempty"`       // DNS-based identifier as published
	Lud16           string            `json:"lud16,omitempty"`       // Lightning address as published
	ServiceKey      string            `json:"service_key,omitempty"` // Optional delegated service key
	AddressValid    bool              `json:"address_valid"`         // Validity flag carried from the persisted record
	Annotations     map[string]string `json:"annotations,omitempty"` // Parsed tag annotations (petnames and the like)
	LoadedAt        time.Time         `json:"loaded_at"`             // When this record entered the local cache
	SourceCreatedAt nostr.Timestamp   `json:"source_created_at"`     // created_at of the originating event
}

// Supersedes reports whether p should replace existing. Records are replaced
// wholesale, never merged.
func (p *ProfileRecord) Supersedes(existing *ProfileRecord) bool {
	return existing == nil || p.SourceCreatedAt > existing.SourceCreatedAt
}

// DMRecord tracks the state of one direct-message conversation, keyed by the
// owning pubkey plus the counterpart.
type DMRecord struct {
	Pubkey      string          `json:"pubkey"`       // Owner of the cache
	Counterpart string          `json:"counterpart"`  // The other side of the conversation
	LastEventID string          `json:"last_event_id,omitempty"`
	LastMessage nostr.Timestamp `json:"last_message"` // created_at of the newest message seen
	LastRead    nostr.Timestamp `json:"last_read"`    // Read marker maintained by the consumer
}

// InteractionRecord tracks one reaction/repost/zap against a target event,
// keyed by the owning pubkey plus the target event id.
type InteractionRecord struct {
	Pubkey      string          `json:"pubkey"`       // Author of the interaction
	TargetEvent string          `json:"target_event"` // Event the interaction points at
	Kind        int             `json:"kind"`         // Interaction event kind (7, 6, 9735, ...)
	EventID     string          `json:"event_id"`
	CreatedAt   nostr.Timestamp `json:"created_at"`
}
