// Package blobstore provides the durable track payload store backed by bbolt.
package blobstore

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/osa030/spotilite/internal/domain/failure"
	"github.com/osa030/spotilite/internal/domain/track"
)

// SchemaVersion is the on-disk layout version.
const SchemaVersion = 1

var (
	bucketMeta     = []byte("meta")
	bucketRecords  = []byte("records")
	bucketPayloads = []byte("payloads")
	bucketLastUsed = []byte("last_used")

	keySchemaVersion = []byte("schema_version")
)

// ErrSchemaMismatch is returned when the database was written by an
// incompatible version.
var ErrSchemaMismatch = errors.New("blob store schema mismatch")

// recordMeta is the persisted metadata of a record (payload is stored apart).
type recordMeta struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	DurationSeconds float64 `json:"duration_seconds"`
	CoverURL        string  `json:"cover_url"`
	SizeBytes       int64   `json:"size_bytes"`
	LastUsedEpochMs int64   `json:"last_used_ms"`
	Seq             uint64  `json:"seq"` // Insertion order, breaks lastUsed ties
}

// Store is a bbolt-backed blob store.
// Every operation runs in a single bbolt transaction.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, failure.StoreIOFailed(err, "failed to create store directory")
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, failure.StoreIOFailed(err, "failed to open blob store %s", path)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketRecords, bucketPayloads, bucketLastUsed} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		raw := meta.Get(keySchemaVersion)
		if raw == nil {
			return meta.Put(keySchemaVersion, encodeUint64(SchemaVersion))
		}
		if v := binary.BigEndian.Uint64(raw); v != SchemaVersion {
			return errors.Wrapf(ErrSchemaMismatch, "found version %d, want %d", v, SchemaVersion)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return err
		}
		return failure.StoreIOFailed(err, "failed to initialise blob store")
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a record.
func (s *Store) Put(rec track.CachedRecord) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		index := tx.Bucket(bucketLastUsed)

		meta := recordMeta{
			ID:              rec.ID,
			Title:           rec.Title,
			Artist:          rec.Artist,
			Album:           rec.Album,
			DurationSeconds: rec.DurationSeconds,
			CoverURL:        rec.CoverURL,
			SizeBytes:       rec.SizeBytes,
			LastUsedEpochMs: rec.LastUsedEpochMs,
		}

		prev, err := loadMeta(records, rec.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			meta.Seq = prev.Seq
			if err := index.Delete(indexKey(prev.LastUsedEpochMs, prev.Seq)); err != nil {
				return err
			}
		} else {
			seq, err := records.NextSequence()
			if err != nil {
				return err
			}
			meta.Seq = seq
		}

		if err := saveMeta(records, meta); err != nil {
			return err
		}
		payload := rec.Payload
		if payload == nil {
			payload = []byte{}
		}
		if err := tx.Bucket(bucketPayloads).Put([]byte(rec.ID), payload); err != nil {
			return err
		}
		return index.Put(indexKey(meta.LastUsedEpochMs, meta.Seq), []byte(rec.ID))
	})
	if err != nil {
		return failure.StoreIOFailed(err, "failed to put record %s", rec.ID)
	}
	return nil
}

// Touch updates the last used timestamp of a record.
// Returns false if the record does not exist.
func (s *Store) Touch(id string, nowMs int64) (bool, error) {
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		index := tx.Bucket(bucketLastUsed)

		meta, err := loadMeta(records, id)
		if err != nil || meta == nil {
			return err
		}
		found = true

		if err := index.Delete(indexKey(meta.LastUsedEpochMs, meta.Seq)); err != nil {
			return err
		}
		meta.LastUsedEpochMs = nowMs
		if err := saveMeta(records, *meta); err != nil {
			return err
		}
		return index.Put(indexKey(meta.LastUsedEpochMs, meta.Seq), []byte(id))
	})
	if err != nil {
		return false, failure.StoreIOFailed(err, "failed to touch record %s", id)
	}
	return found, nil
}

// Get returns the record with id, including its payload.
// Read failures are logged and reported as absent.
func (s *Store) Get(id string) (*track.CachedRecord, bool) {
	var rec *track.CachedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		meta, err := loadMeta(tx.Bucket(bucketRecords), id)
		if err != nil || meta == nil {
			return err
		}
		payload := tx.Bucket(bucketPayloads).Get([]byte(id))
		if payload == nil {
			return errors.Newf("payload missing for record %s", id)
		}
		r := meta.toRecord(payload)
		rec = &r
		return nil
	})
	if err != nil {
		zlog.Warn().Msgf("blobstore: read failed, treating as absent: id=%s error=%v", id, err)
		return nil, false
	}
	return rec, rec != nil
}

// GetAll returns every record with its payload.
// Read failures are logged and reported as an empty store.
func (s *Store) GetAll() []track.CachedRecord {
	var result []track.CachedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		payloads := tx.Bucket(bucketPayloads)
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var meta recordMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return errors.Wrapf(err, "corrupt record %s", k)
			}
			result = append(result, meta.toRecord(payloads.Get(k)))
			return nil
		})
	})
	if err != nil {
		zlog.Warn().Msgf("blobstore: read all failed, treating as empty: error=%v", err)
		return nil
	}
	return result
}

// List returns every record without payloads.
func (s *Store) List() []track.CachedRecord {
	var result []track.CachedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var meta recordMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return errors.Wrapf(err, "corrupt record %s", k)
			}
			result = append(result, meta.toRecord(nil))
			return nil
		})
	})
	if err != nil {
		zlog.Warn().Msgf("blobstore: list failed, treating as empty: error=%v", err)
		return nil
	}
	return result
}

// OldestFirst returns records without payloads in ascending last used order.
// Ties are ordered by insertion.
func (s *Store) OldestFirst() []track.CachedRecord {
	var result []track.CachedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		return tx.Bucket(bucketLastUsed).ForEach(func(_, id []byte) error {
			meta, err := loadMeta(records, string(id))
			if err != nil {
				return err
			}
			if meta == nil {
				// Dangling index entry; skip it.
				return nil
			}
			result = append(result, meta.toRecord(nil))
			return nil
		})
	})
	if err != nil {
		zlog.Warn().Msgf("blobstore: index scan failed, treating as empty: error=%v", err)
		return nil
	}
	return result
}

// Delete removes the record with id. Deleting a missing record is a no-op.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		meta, err := loadMeta(records, id)
		if err != nil || meta == nil {
			return err
		}
		if err := tx.Bucket(bucketLastUsed).Delete(indexKey(meta.LastUsedEpochMs, meta.Seq)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketPayloads).Delete([]byte(id)); err != nil {
			return err
		}
		return records.Delete([]byte(id))
	})
	if err != nil {
		return failure.StoreIOFailed(err, "failed to delete record %s", id)
	}
	return nil
}

// Clear removes every record.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketPayloads, bucketLastUsed} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return failure.StoreIOFailed(err, "failed to clear blob store")
	}
	return nil
}

func loadMeta(records *bolt.Bucket, id string) (*recordMeta, error) {
	raw := records.Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var meta recordMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrapf(err, "corrupt record %s", id)
	}
	return &meta, nil
}

func saveMeta(records *bolt.Bucket, meta recordMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	return records.Put([]byte(meta.ID), raw)
}

func (m *recordMeta) toRecord(payload []byte) track.CachedRecord {
	var data []byte
	if payload != nil {
		// bbolt memory is only valid inside the transaction.
		data = make([]byte, len(payload))
		copy(data, payload)
	}
	return track.CachedRecord{
		ID:              m.ID,
		Title:           m.Title,
		Artist:          m.Artist,
		Album:           m.Album,
		DurationSeconds: m.DurationSeconds,
		CoverURL:        m.CoverURL,
		SizeBytes:       m.SizeBytes,
		LastUsedEpochMs: m.LastUsedEpochMs,
		Payload:         data,
	}
}

// indexKey orders by last used time, then insertion sequence.
// Timestamps before the epoch clamp to zero.
func indexKey(lastUsedMs int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(max(lastUsedMs, 0)))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
