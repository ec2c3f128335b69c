package cache

import (
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
)

// Ingestor folds events of cached kinds into the record cache: profile
// metadata, direct messages, and reactions/reposts/zap receipts. Everything
// else passes through untouched.
type Ingestor struct {
	log   *zap.Logger
	cache domain.Cache
}

// NewIngestor returns an Ingestor writing into c.
func NewIngestor(c domain.Cache) *Ingestor {
	return &Ingestor{
		log:   logger.New("cache"),
		cache: c,
	}
}

// CachedKind reports whether events of this kind feed the record cache.
func CachedKind(kind int) bool {
	switch kind {
	case nostr.KindProfileMetadata, nostr.KindEncryptedDirectMessage,
		nostr.KindRepost, nostr.KindReaction, nostr.KindZap:
		return true
	}
	return false
}

// Ingest folds evt into the cache when its kind is one the cache tracks and
// reports whether it was. Parse and persistence failures are logged and
// swallowed; a bad record never blocks event routing.
func (in *Ingestor) Ingest(evt *nostr.Event) bool {
	if evt == nil {
		return false
	}
	switch evt.Kind {
	case nostr.KindProfileMetadata:
		in.ingestProfile(evt)
	case nostr.KindEncryptedDirectMessage:
		in.ingestDM(evt)
	case nostr.KindRepost, nostr.KindReaction, nostr.KindZap:
		in.ingestInteraction(evt)
	default:
		return false
	}
	return true
}

func (in *Ingestor) ingestProfile(evt *nostr.Event) {
	rec, err := ParseProfile(evt)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("parse_failure").Inc()
		in.log.Warn("Dropping unparseable profile event",
			zap.String("pubkey", evt.PubKey),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return
	}
	if err := in.cache.SetProfile(rec); err != nil {
		in.log.Warn("Profile record not persisted", zap.String("pubkey", rec.Pubkey), zap.Error(err))
	}
}

func (in *Ingestor) ingestDM(evt *nostr.Event) {
	counterpart := firstTagValue(evt, "p")
	if counterpart == "" {
		in.log.Debug("Direct message without recipient tag",
			zap.String("event_id", evt.ID))
		return
	}
	rec := &models.DMRecord{
		Pubkey:      evt.PubKey,
		Counterpart: counterpart,
		LastEventID: evt.ID,
		LastMessage: evt.CreatedAt,
	}
	if err := in.cache.SetDM(rec); err != nil {
		in.log.Warn("DM record not persisted", zap.String("pubkey", rec.Pubkey), zap.Error(err))
	}
}

func (in *Ingestor) ingestInteraction(evt *nostr.Event) {
	target := firstTagValue(evt, "e")
	if target == "" {
		in.log.Debug("Interaction without target event tag",
			zap.String("event_id", evt.ID),
			zap.Int("kind", evt.Kind))
		return
	}
	rec := &models.InteractionRecord{
		Pubkey:      evt.PubKey,
		TargetEvent: target,
		Kind:        evt.Kind,
		EventID:     evt.ID,
		CreatedAt:   evt.CreatedAt,
	}
	if err := in.cache.SetInteraction(rec); err != nil {
		in.log.Warn("Interaction record not persisted", zap.String("pubkey", rec.Pubkey), zap.Error(err))
	}
}

func firstTagValue(evt *nostr.Event, name string) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
