// Package cache provides a persistent, expiry-aware result cache for
// enrichment lookups. Entries are keyed by (indicator, source) so results
// from different sources never collide, and survive process restarts in a
// single local BoltDB file.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mdtran/intelweaver/internal/indicator"
	"github.com/mdtran/intelweaver/internal/intel"
)

var bucketEnrichment = []byte("enrichment")

// Entry is one cached source result. Entries are never mutated in place;
// a refresh overwrites the whole value.
type Entry struct {
	Indicator   indicator.Indicator `json:"indicator"`
	Source      intel.Source        `json:"source"`
	Payload     json.RawMessage     `json:"payload"`
	RetrievedAt time.Time           `json:"retrieved_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at time now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats summarizes cache contents for the stats endpoint.
type Stats struct {
	TotalEntries   int    `json:"total_entries"`
	ValidEntries   int    `json:"valid_entries"`
	ExpiredEntries int    `json:"expired_entries"`
	SizeBytes      int64  `json:"size_bytes"`
	Path           string `json:"path"`
}

// Store is a concurrency-safe persistent TTL cache. BoltDB serializes
// writers internally; no additional locking is needed per key.
type Store struct {
	db     *bbolt.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := &bbolt.Options{Timeout: 1 * time.Second}

	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEnrichment)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached entry for (indicator, source), or absent. Expired
// entries are treated as absent without being deleted (lazy expiry; Sweep
// reclaims space). Storage failures degrade to a miss: the cache is an
// optimization, never a dependency.
func (s *Store) Get(ind indicator.Indicator, source intel.Source) (*Entry, bool) {
	var entry Entry
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEnrichment).Get(entryKey(ind, source))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Warn("cache read failed, treating as miss",
			zap.String("indicator", ind.Key()),
			zap.String("source", string(source)),
			zap.Error(err))
		return nil, false
	}

	if !found || entry.Expired(s.now()) {
		return nil, false
	}

	return &entry, true
}

// Put writes an entry, overwriting any previous entry for the same
// (indicator, source) pair. Last write wins.
func (s *Store) Put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEnrichment).Put(entryKey(entry.Indicator, entry.Source), data)
	})
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	return nil
}

// Sweep deletes expired entries and reports how many were removed. Purely
// a space optimization; Get never returns expired entries regardless.
func (s *Store) Sweep() (int, error) {
	now := s.now()
	removed := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEnrichment)
		cursor := bucket.Cursor()

		var stale [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || entry.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep cache: %w", err)
	}

	return removed, nil
}

// Stats counts entries and reports the database file size.
func (s *Store) Stats() Stats {
	stats := Stats{Path: s.path}
	now := s.now()

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEnrichment).ForEach(func(k, v []byte) error {
			stats.TotalEntries++
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || entry.Expired(now) {
				stats.ExpiredEntries++
				return nil
			}
			stats.ValidEntries++
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("cache stats scan failed", zap.Error(err))
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats
}

// StartSweeper runs Sweep every interval until stop is closed.
func (s *Store) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				s.logger.Warn("cache sweep failed", zap.Error(err))
			} else if removed > 0 {
				s.logger.Debug("cache sweep", zap.Int("removed", removed))
			}
		case <-stop:
			return
		}
	}
}

// entryKey builds the composite key for an (indicator, source) pair.
func entryKey(ind indicator.Indicator, source intel.Source) []byte {
	return []byte(ind.Key() + "|" + string(source))
}
