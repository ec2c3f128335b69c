package domain

import (
	"context"

	"github.com/Shugur-Network/lens/internal/models"
)

// Cache is the profile/DM/interaction record store consumed by the engine.
// Preload runs once at startup; query submission may only assume cached
// records are visible after it returns.
type Cache interface {
	Preload(ctx context.Context) error

	// Profile records, keyed by pubkey.
	Profile(pubkey string) (*models.ProfileRecord, bool)
	SetProfile(rec *models.ProfileRecord) error
	EachProfile(fn func(rec *models.ProfileRecord) bool)

	// DM records, keyed by pubkey plus counterpart.
	DM(pubkey, counterpart string) (*models.DMRecord, bool)
	SetDM(rec *models.DMRecord) error
	EachDM(pubkey string, fn func(rec *models.DMRecord) bool)

	// Interaction records, keyed by pubkey plus target event.
	Interaction(pubkey, targetEvent string) (*models.InteractionRecord, bool)
	SetInteraction(rec *models.InteractionRecord) error
	EachInteraction(pubkey string, fn func(rec *models.InteractionRecord) bool)

	Close() error
}
