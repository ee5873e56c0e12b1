package blobstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/osa030/spotilite/internal/domain/track"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "spotilite.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func record(id string, size int, lastUsed int64) track.CachedRecord {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	return track.CachedRecord{
		ID:              id,
		Title:           "Song " + id,
		Artist:          "Artist",
		SizeBytes:       int64(size),
		LastUsedEpochMs: lastUsed,
		Payload:         payload,
	}
}

func TestStore_PutGet(t *testing.T) {
	s, _ := openTestStore(t)

	rec := record("1", 32, 1000)
	rec.CoverURL = "http://localhost:3000/covers/1.jpg"
	require.NoError(t, s.Put(rec))

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, rec, *got)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_PutReplaces(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Put(record("1", 10, 1000)))
	require.NoError(t, s.Put(record("1", 20, 2000)))

	all := s.List()
	require.Len(t, all, 1)
	assert.Equal(t, int64(20), all[0].SizeBytes)
	assert.Nil(t, all[0].Payload, "list omits payloads")

	oldest := s.OldestFirst()
	require.Len(t, oldest, 1, "replaced record leaves no stale index entry")
	assert.Equal(t, int64(2000), oldest[0].LastUsedEpochMs)
}

func TestStore_OldestFirst(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Put(record("c", 1, 3000)))
	require.NoError(t, s.Put(record("a", 1, 1000)))
	require.NoError(t, s.Put(record("tie-first", 1, 2000)))
	require.NoError(t, s.Put(record("tie-second", 1, 2000)))

	var got []string
	for _, r := range s.OldestFirst() {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{"a", "tie-first", "tie-second", "c"}, got)
}

func TestStore_Touch(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Put(record("a", 1, 1000)))
	require.NoError(t, s.Put(record("b", 1, 2000)))

	found, err := s.Touch("a", 5000)
	require.NoError(t, err)
	assert.True(t, found)

	oldest := s.OldestFirst()
	require.Len(t, oldest, 2)
	assert.Equal(t, "b", oldest[0].ID)
	assert.Equal(t, "a", oldest[1].ID)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(5000), got.LastUsedEpochMs)

	found, err = s.Touch("missing", 5000)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Put(record("a", 4, 1000)))
	require.NoError(t, s.Put(record("b", 4, 2000)))

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"), "deleting twice is a no-op")

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Len(t, s.GetAll(), 1)
	assert.Len(t, s.OldestFirst(), 1)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.GetAll())
	assert.Empty(t, s.OldestFirst())
}

func TestStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotilite.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(record("a", 8, 1000)))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Len(t, got.Payload, 8)
}

func TestStore_SchemaMismatch(t *testing.T) {
	_, path := openTestStore(t)

	db, err := bolt.Open(filepath.Join(filepath.Dir(path), "old.db"), 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		return b.Put(keySchemaVersion, encodeUint64(99))
	}))
	require.NoError(t, db.Close())

	_, err = Open(filepath.Join(filepath.Dir(path), "old.db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s, _ := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(record(track.IDFromInt(i), 16, int64(1000+i))))
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.GetAll(), 16)
	assert.Len(t, s.OldestFirst(), 16)
}

func TestStore_PutRequiresID(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Error(t, s.Put(track.CachedRecord{}))
}
