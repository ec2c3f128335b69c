package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
)

// MemoryCache is the map-backed record cache. It is the default driver and
// doubles as the in-process index for the Postgres driver. Records are
// replaced wholesale under the supersede rules; they are never merged, with
// the single exception of the DM read marker which keeps the furthest
// position seen.
type MemoryCache struct {
	log *zap.Logger

	mu           sync.RWMutex
	profiles     map[string]*models.ProfileRecord
	dms          map[string]map[string]*models.DMRecord
	interactions map[string]map[string]*models.InteractionRecord
	dmCount      int
	interCount   int

	preloadOnce sync.Once
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		log:          logger.New("cache"),
		profiles:     make(map[string]*models.ProfileRecord),
		dms:          make(map[string]map[string]*models.DMRecord),
		interactions: make(map[string]map[string]*models.InteractionRecord),
	}
}

// Preload is a no-op for the memory driver; there is nothing persisted to
// load. It still counts as the one preload pass the engine waits for.
func (m *MemoryCache) Preload(ctx context.Context) error {
	m.preloadOnce.Do(func() {
		metrics.CacheOperations.WithLabelValues("preload").Inc()
		m.log.Debug("Memory cache ready, nothing to preload")
	})
	return nil
}

/* --------------------------------------------------------------------------
   | 1. Profiles                                                            |
   -------------------------------------------------------------------------- */

// Profile returns the cached profile for pubkey, if any.
func (m *MemoryCache) Profile(pubkey string) (*models.ProfileRecord, bool) {
	metrics.CacheOperations.WithLabelValues("get").Inc()
	m.mu.RLock()
	rec, ok := m.profiles[pubkey]
	m.mu.RUnlock()
	return rec, ok
}

// SetProfile stores rec unless an entry with an equal or newer source
// timestamp is already present.
func (m *MemoryCache) SetProfile(rec *models.ProfileRecord) error {
	if rec == nil || rec.Pubkey == "" {
		return nil
	}
	metrics.CacheOperations.WithLabelValues("set").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.profiles[rec.Pubkey]; !rec.Supersedes(existing) {
		return nil
	}
	m.profiles[rec.Pubkey] = rec
	metrics.CacheRecords.WithLabelValues("profile").Set(float64(len(m.profiles)))
	return nil
}

// EachProfile calls fn for every cached profile until fn returns false.
// Iteration runs over a stable copy; fn may call back into the cache.
func (m *MemoryCache) EachProfile(fn func(rec *models.ProfileRecord) bool) {
	m.mu.RLock()
	recs := make([]*models.ProfileRecord, 0, len(m.profiles))
	for _, rec := range m.profiles {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		if !fn(rec) {
			return
		}
	}
}

/* --------------------------------------------------------------------------
   | 2. DM conversations                                                    |
   -------------------------------------------------------------------------- */

// DM returns the conversation record for the pubkey/counterpart pair.
func (m *MemoryCache) DM(pubkey, counterpart string) (*models.DMRecord, bool) {
	metrics.CacheOperations.WithLabelValues("get").Inc()
	m.mu.RLock()
	rec, ok := m.dms[pubkey][counterpart]
	m.mu.RUnlock()
	return rec, ok
}

// SetDM stores rec when it carries a newer last message than the existing
// entry. The read marker only ever moves forward, whichever side it came
// from.
func (m *MemoryCache) SetDM(rec *models.DMRecord) error {
	if rec == nil || rec.Pubkey == "" || rec.Counterpart == "" {
		return nil
	}
	metrics.CacheOperations.WithLabelValues("set").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.dms[rec.Pubkey][rec.Counterpart]
	switch {
	case existing == nil:
		if m.dms[rec.Pubkey] == nil {
			m.dms[rec.Pubkey] = make(map[string]*models.DMRecord)
		}
		m.dms[rec.Pubkey][rec.Counterpart] = rec
		m.dmCount++
		metrics.CacheRecords.WithLabelValues("dm").Set(float64(m.dmCount))
	case rec.LastMessage > existing.LastMessage:
		merged := *rec
		if existing.LastRead > merged.LastRead {
			merged.LastRead = existing.LastRead
		}
		m.dms[rec.Pubkey][rec.Counterpart] = &merged
	case rec.LastRead > existing.LastRead:
		updated := *existing
		updated.LastRead = rec.LastRead
		m.dms[rec.Pubkey][rec.Counterpart] = &updated
	}
	return nil
}

// EachDM calls fn for every conversation of pubkey until fn returns false.
func (m *MemoryCache) EachDM(pubkey string, fn func(rec *models.DMRecord) bool) {
	m.mu.RLock()
	recs := make([]*models.DMRecord, 0, len(m.dms[pubkey]))
	for _, rec := range m.dms[pubkey] {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		if !fn(rec) {
			return
		}
	}
}

/* --------------------------------------------------------------------------
   | 3. Interactions                                                        |
   -------------------------------------------------------------------------- */

// Interaction returns the interaction record for the pubkey/target pair.
func (m *MemoryCache) Interaction(pubkey, targetEvent string) (*models.InteractionRecord, bool) {
	metrics.CacheOperations.WithLabelValues("get").Inc()
	m.mu.RLock()
	rec, ok := m.interactions[pubkey][targetEvent]
	m.mu.RUnlock()
	return rec, ok
}

// SetInteraction stores rec unless an entry with an equal or newer created_at
// is already present for the same pubkey/target pair.
func (m *MemoryCache) SetInteraction(rec *models.InteractionRecord) error {
	if rec == nil || rec.Pubkey == "" || rec.TargetEvent == "" {
		return nil
	}
	metrics.CacheOperations.WithLabelValues("set").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.interactions[rec.Pubkey][rec.TargetEvent]
	if existing != nil && existing.CreatedAt >= rec.CreatedAt {
		return nil
	}
	if m.interactions[rec.Pubkey] == nil {
		m.interactions[rec.Pubkey] = make(map[string]*models.InteractionRecord)
	}
	if existing == nil {
		m.interCount++
		metrics.CacheRecords.WithLabelValues("interaction").Set(float64(m.interCount))
	}
	m.interactions[rec.Pubkey][rec.TargetEvent] = rec
	return nil
}

// EachInteraction calls fn for every interaction of pubkey until fn returns
// false.
func (m *MemoryCache) EachInteraction(pubkey string, fn func(rec *models.InteractionRecord) bool) {
	m.mu.RLock()
	recs := make([]*models.InteractionRecord, 0, len(m.interactions[pubkey]))
	for _, rec := range m.interactions[pubkey] {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		if !fn(rec) {
			return
		}
	}
}

// Close releases nothing for the memory driver.
func (m *MemoryCache) Close() error {
	return nil
}

/* --------------------------------------------------------------------------
   | 4. Preload seeding                                                     |
   -------------------------------------------------------------------------- */

// seedProfile inserts a persisted row directly, bypassing supersede checks
// and per-set accounting. Only the Postgres preload uses it.
func (m *MemoryCache) seedProfile(rec *models.ProfileRecord) {
	m.mu.Lock()
	m.profiles[rec.Pubkey] = rec
	metrics.CacheRecords.WithLabelValues("profile").Set(float64(len(m.profiles)))
	m.mu.Unlock()
}

func (m *MemoryCache) seedDM(rec *models.DMRecord) {
	m.mu.Lock()
	if m.dms[rec.Pubkey] == nil {
		m.dms[rec.Pubkey] = make(map[string]*models.DMRecord)
	}
	if m.dms[rec.Pubkey][rec.Counterpart] == nil {
		m.dmCount++
		metrics.CacheRecords.WithLabelValues("dm").Set(float64(m.dmCount))
	}
	m.dms[rec.Pubkey][rec.Counterpart] = rec
	m.mu.Unlock()
}

func (m *MemoryCache) seedInteraction(rec *models.InteractionRecord) {
	m.mu.Lock()
	if m.interactions[rec.Pubkey] == nil {
		m.interactions[rec.Pubkey] = make(map[string]*models.InteractionRecord)
	}
	if m.interactions[rec.Pubkey][rec.TargetEvent] == nil {
		m.interCount++
		metrics.CacheRecords.WithLabelValues("interaction").Set(float64(m.interCount))
	}
	m.interactions[rec.Pubkey][rec.TargetEvent] = rec
	m.mu.Unlock()
}
