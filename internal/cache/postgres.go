package cache

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	nostr "github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/errors"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
)

//go:embed schema.sql
var schemaDDL string

// PostgresCache persists records through a pgx pool and serves reads from an
// embedded memory index. Preload applies the schema and loads every persisted
// row into the index; writes go to the index first and are then written
// through, so a persistence failure never loses the in-process record.
type PostgresCache struct {
	*MemoryCache

	log    *zap.Logger
	pool   *pgxpool.Pool
	once   sync.Once
	closed atomic.Bool
}

// NewPostgresCache connects to the database at uri, retrying with backoff
// the way a freshly booted stack needs.
func NewPostgresCache(ctx context.Context, uri string) (*PostgresCache, error) {
	log := logger.New("cache")

	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, errors.CacheFailure("connect", fmt.Errorf("parsing database URI: %w", err))
	}
	cfg.MaxConns = constants.CachePoolMaxConns
	cfg.MinConns = constants.CachePoolMinConns
	cfg.MaxConnLifetime = constants.CacheConnMaxLifetime
	cfg.MaxConnIdleTime = constants.CacheConnMaxIdleTime

	var pool *pgxpool.Pool
	backoff := 2 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("Cache database connected",
					zap.Int("attempt", attempt),
					zap.Int32("max_conns", cfg.MaxConns))
				return &PostgresCache{
					MemoryCache: NewMemoryCache(),
					log:         log,
					pool:        pool,
				}, nil
			}
			pool.Close()
		}
		log.Warn("Cache database connection failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		time.Sleep(backoff)
		backoff *= 2
	}

	metrics.ErrorsCount.WithLabelValues("cache").Inc()
	return nil, errors.CacheFailure("connect", err)
}

// Preload applies the schema and loads all persisted records into the memory
// index. It runs at most once; the engine gates query submission on it.
func (p *PostgresCache) Preload(ctx context.Context) error {
	var err error
	p.once.Do(func() { err = p.preload(ctx) })
	return err
}

func (p *PostgresCache) preload(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaDDL); err != nil {
		metrics.ErrorsCount.WithLabelValues("cache").Inc()
		return errors.CacheFailure("preload", fmt.Errorf("applying schema: %w", err))
	}

	profiles, err := p.loadProfiles(ctx)
	if err != nil {
		return err
	}
	dms, err := p.loadDMs(ctx)
	if err != nil {
		return err
	}
	interactions, err := p.loadInteractions(ctx)
	if err != nil {
		return err
	}

	metrics.CacheOperations.WithLabelValues("preload").Inc()
	p.log.Info("Cache preloaded",
		zap.Int("profiles", profiles),
		zap.Int("dm_records", dms),
		zap.Int("interactions", interactions))
	return nil
}

func (p *PostgresCache) loadProfiles(ctx context.Context) (int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pubkey, address, name, display_name, about, picture,
		       nip05, lud16, service_key, address_valid, annotations,
		       loaded_at, source_created_at
		FROM profiles`)
	if err != nil {
		return 0, errors.CacheFailure("preload", fmt.Errorf("loading profiles: %w", err))
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			rec       models.ProfileRecord
			ann       []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.Pubkey, &rec.Address, &rec.Name, &rec.DisplayName,
			&rec.About, &rec.Picture, &rec.Nip05, &rec.Lud16, &rec.ServiceKey,
			&rec.AddressValid, &ann, &rec.LoadedAt, &createdAt); err != nil {
			return count, errors.CacheFailure("preload", fmt.Errorf("scanning profile: %w", err))
		}
		if len(ann) > 0 {
			if err := json.Unmarshal(ann, &rec.Annotations); err != nil {
				p.log.Warn("Dropping unreadable profile annotations",
					zap.String("pubkey", rec.Pubkey), zap.Error(err))
			}
		}
		rec.SourceCreatedAt = nostr.Timestamp(createdAt)
		p.seedProfile(&rec)
		count++
	}
	return count, rows.Err()
}

func (p *PostgresCache) loadDMs(ctx context.Context) (int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pubkey, counterpart, last_event_id, last_message, last_read
		FROM dm_records`)
	if err != nil {
		return 0, errors.CacheFailure("preload", fmt.Errorf("loading dm records: %w", err))
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			rec               models.DMRecord
			lastMsg, lastRead int64
		)
		if err := rows.Scan(&rec.Pubkey, &rec.Counterpart, &rec.LastEventID,
			&lastMsg, &lastRead); err != nil {
			return count, errors.CacheFailure("preload", fmt.Errorf("scanning dm record: %w", err))
		}
		rec.LastMessage = nostr.Timestamp(lastMsg)
		rec.LastRead = nostr.Timestamp(lastRead)
		p.seedDM(&rec)
		count++
	}
	return count, rows.Err()
}

func (p *PostgresCache) loadInteractions(ctx context.Context) (int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pubkey, target_event, kind, event_id, created_at
		FROM interaction_records`)
	if err != nil {
		return 0, errors.CacheFailure("preload", fmt.Errorf("loading interactions: %w", err))
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			rec       models.InteractionRecord
			createdAt int64
		)
		if err := rows.Scan(&rec.Pubkey, &rec.TargetEvent, &rec.Kind,
			&rec.EventID, &createdAt); err != nil {
			return count, errors.CacheFailure("preload", fmt.Errorf("scanning interaction: %w", err))
		}
		rec.CreatedAt = nostr.Timestamp(createdAt)
		p.seedInteraction(&rec)
		count++
	}
	return count, rows.Err()
}

/* --------------------------------------------------------------------------
   | Write-through                                                          |
   -------------------------------------------------------------------------- */

// SetProfile updates the index and writes the record through, superseding the
// stored row only when the source timestamp moved forward.
func (p *PostgresCache) SetProfile(rec *models.ProfileRecord) error {
	if err := p.MemoryCache.SetProfile(rec); err != nil {
		return err
	}
	if rec == nil || rec.Pubkey == "" || p.closed.Load() {
		return nil
	}

	ann, err := json.Marshal(rec.Annotations)
	if err != nil {
		return errors.CacheFailure("set", fmt.Errorf("encoding annotations: %w", err))
	}

	ctx, cancel := writeCtx()
	defer cancel()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO profiles (pubkey, address, name, display_name, about,
		                      picture, nip05, lud16, service_key, address_valid,
		                      annotations, loaded_at, source_created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (pubkey) DO UPDATE SET
			address           = EXCLUDED.address,
			name              = EXCLUDED.name,
			display_name      = EXCLUDED.display_name,
			about             = EXCLUDED.about,
			picture           = EXCLUDED.picture,
			nip05             = EXCLUDED.nip05,
			lud16             = EXCLUDED.lud16,
			service_key       = EXCLUDED.service_key,
			address_valid     = EXCLUDED.address_valid,
			annotations       = EXCLUDED.annotations,
			loaded_at         = EXCLUDED.loaded_at,
			source_created_at = EXCLUDED.source_created_at
		WHERE profiles.source_created_at < EXCLUDED.source_created_at`,
		rec.Pubkey, rec.Address, rec.Name, rec.DisplayName, rec.About,
		rec.Picture, rec.Nip05, rec.Lud16, rec.ServiceKey, rec.AddressValid,
		ann, rec.LoadedAt, int64(rec.SourceCreatedAt))
	if err != nil {
		metrics.ErrorsCount.WithLabelValues("cache").Inc()
		return errors.CacheFailure("set", fmt.Errorf("persisting profile %s: %w", rec.Pubkey, err))
	}
	return nil
}

// SetDM updates the index and writes the record through. The stored row keeps
// the newest message and the furthest read marker, whichever side held them.
func (p *PostgresCache) SetDM(rec *models.DMRecord) error {
	if err := p.MemoryCache.SetDM(rec); err != nil {
		return err
	}
	if rec == nil || rec.Pubkey == "" || rec.Counterpart == "" || p.closed.Load() {
		return nil
	}

	ctx, cancel := writeCtx()
	defer cancel()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dm_records (pubkey, counterpart, last_event_id, last_message, last_read)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pubkey, counterpart) DO UPDATE SET
			last_event_id = CASE
				WHEN EXCLUDED.last_message > dm_records.last_message
				THEN EXCLUDED.last_event_id
				ELSE dm_records.last_event_id
			END,
			last_message = GREATEST(dm_records.last_message, EXCLUDED.last_message),
			last_read    = GREATEST(dm_records.last_read, EXCLUDED.last_read)`,
		rec.Pubkey, rec.Counterpart, rec.LastEventID,
		int64(rec.LastMessage), int64(rec.LastRead))
	if err != nil {
		metrics.ErrorsCount.WithLabelValues("cache").Inc()
		return errors.CacheFailure("set", fmt.Errorf("persisting dm record %s/%s: %w",
			rec.Pubkey, rec.Counterpart, err))
	}
	return nil
}

// SetInteraction updates the index and writes the record through, superseding
// the stored row only when created_at moved forward.
func (p *PostgresCache) SetInteraction(rec *models.InteractionRecord) error {
	if err := p.MemoryCache.SetInteraction(rec); err != nil {
		return err
	}
	if rec == nil || rec.Pubkey == "" || rec.TargetEvent == "" || p.closed.Load() {
		return nil
	}

	ctx, cancel := writeCtx()
	defer cancel()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO interaction_records (pubkey, target_event, kind, event_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pubkey, target_event) DO UPDATE SET
			kind       = EXCLUDED.kind,
			event_id   = EXCLUDED.event_id,
			created_at = EXCLUDED.created_at
		WHERE interaction_records.created_at < EXCLUDED.created_at`,
		rec.Pubkey, rec.TargetEvent, rec.Kind, rec.EventID, int64(rec.CreatedAt))
	if err != nil {
		metrics.ErrorsCount.WithLabelValues("cache").Inc()
		return errors.CacheFailure("set", fmt.Errorf("persisting interaction %s/%s: %w",
			rec.Pubkey, rec.TargetEvent, err))
	}
	return nil
}

// Close stops accepting writes and releases the pool.
func (p *PostgresCache) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.pool.Close()
	p.log.Debug("Cache database closed")
	return nil
}

func writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.CacheWriteTimeout)
}
