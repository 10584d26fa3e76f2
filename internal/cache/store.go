package cache

import (
	"fmt"
	"log"
	"time"

	"steam-family-bot/internal/database"
	"steam-family-bot/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind identifies one cached resource kind, each backed by its own
// table of CacheRow.
type Kind string

const (
	KindGameDetails   Kind = "game_details"
	KindOwnedGames    Kind = "owned_games"
	KindWishlist      Kind = "wishlist"
	KindFamilyLibrary Kind = "family_library"
	KindITADPrice     Kind = "itad_price"
	KindDiscordName   Kind = "discord_name"
)

// Permanent is the TTL sentinel for entries that never expire.
const Permanent time.Duration = 0

func (k Kind) Table() string {
	switch k {
	case KindGameDetails:
		return database.TableGameDetails
	case KindOwnedGames:
		return database.TableOwnedGames
	case KindWishlist:
		return database.TableWishlist
	case KindFamilyLibrary:
		return database.TableFamilyLibrary
	case KindITADPrice:
		return database.TableITADPrice
	case KindDiscordName:
		return database.TableDiscordName
	}
	return string(k)
}

func Kinds() []Kind {
	return []Kind{
		KindGameDetails, KindOwnedGames, KindWishlist,
		KindFamilyLibrary, KindITADPrice, KindDiscordName,
	}
}

// Store is the SQLite-backed TTL cache. Writes are last-write-wins
// upserts; reads are side-effect free (expired rows stay until the
// cleanup sweep).
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the freshness clock. Tests use it to advance time
// past an entry's expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the cached payload for key, or nil when the key is
// missing or stale. Stale rows are not deleted here; that is the
// cleanup sweep's job.
func (s *Store) Get(kind Kind, key string) ([]byte, error) {
	var row models.CacheRow
	err := s.db.Table(kind.Table()).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache read %s/%s: %w", kind, key, err)
	}
	if row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt) {
		return nil, nil
	}
	return row.Payload, nil
}

// Put upserts the entry unconditionally. ttl <= 0 stores it as
// permanent.
func (s *Store) Put(kind Kind, key string, payload []byte, ttl time.Duration) error {
	row := s.makeRow(key, payload, ttl)
	err := s.db.Table(kind.Table()).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"payload":    row.Payload,
			"cached_at":  row.CachedAt,
			"expires_at": row.ExpiresAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("cache write %s/%s: %w", kind, key, err)
	}
	return nil
}

// Entry is one pending write for BatchPut.
type Entry struct {
	Key     string
	Payload []byte
	TTL     time.Duration
}

// BatchPut writes entries in transactional batches of batchSize. A
// failed batch transaction is retried row by row so one bad record
// cannot lose the rest. Returns the number of rows persisted.
func (s *Store) BatchPut(kind Kind, entries []Entry, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	written := 0
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		err := s.db.Transaction(func(tx *gorm.DB) error {
			for _, e := range batch {
				if err := s.putTx(tx, kind, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			written += len(batch)
			continue
		}

		// Per-record fallback: salvage the individually valid rows.
		log.Printf("Cache batch write failed for %s (%d rows), retrying individually: %v", kind, len(batch), err)
		for _, e := range batch {
			if err := s.putTx(s.db, kind, e); err != nil {
				log.Printf("Cache write dropped %s/%s: %v", kind, e.Key, err)
				continue
			}
			written++
		}
	}
	return written, nil
}

func (s *Store) putTx(tx *gorm.DB, kind Kind, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("empty cache key for %s", kind)
	}
	row := s.makeRow(e.Key, e.Payload, e.TTL)
	return tx.Table(kind.Table()).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"payload":    row.Payload,
			"cached_at":  row.CachedAt,
			"expires_at": row.ExpiresAt,
		}),
	}).Create(&row).Error
}

func (s *Store) makeRow(key string, payload []byte, ttl time.Duration) models.CacheRow {
	now := s.now()
	row := models.CacheRow{
		Key:      key,
		Payload:  payload,
		CachedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		row.ExpiresAt = &exp
	}
	return row
}

// Purge drops every row of one kind.
func (s *Store) Purge(kind Kind) (int64, error) {
	res := s.db.Table(kind.Table()).Where("1 = 1").Delete(&models.CacheRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("cache purge %s: %w", kind, res.Error)
	}
	return res.RowsAffected, nil
}

// CleanupExpired removes rows whose expiry has passed across all
// kinds. Permanent rows carry a NULL expiry and are skipped by
// construction.
func (s *Store) CleanupExpired() (int64, error) {
	now := s.now()
	var total int64
	for _, kind := range Kinds() {
		res := s.db.Table(kind.Table()).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Delete(&models.CacheRow{})
		if res.Error != nil {
			return total, fmt.Errorf("cache cleanup %s: %w", kind, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Count returns the number of rows stored for a kind, fresh or stale.
func (s *Store) Count(kind Kind) (int64, error) {
	var n int64
	if err := s.db.Table(kind.Table()).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
