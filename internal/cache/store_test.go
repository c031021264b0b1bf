package cache

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdtran/intelweaver/internal/indicator"
	"github.com/mdtran/intelweaver/internal/intel"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, path
}

func testEntry(t *testing.T, value string, source intel.Source, ttl time.Duration, at time.Time) *Entry {
	t.Helper()
	ind, err := indicator.Parse(value)
	require.NoError(t, err)

	return &Entry{
		Indicator:   ind,
		Source:      source,
		Payload:     json.RawMessage(`{"score":42}`),
		RetrievedAt: at,
		ExpiresAt:   at.Add(ttl),
	}
}

func TestStoreGetMiss(t *testing.T) {
	store, _ := openTestStore(t)

	ind, err := indicator.Parse("8.8.8.8")
	require.NoError(t, err)

	_, ok := store.Get(ind, intel.SourceDShield)
	assert.False(t, ok)
}

func TestStorePutGet(t *testing.T) {
	store, _ := openTestStore(t)
	now := time.Now()

	entry := testEntry(t, "8.8.8.8", intel.SourceDShield, time.Hour, now)
	require.NoError(t, store.Put(entry))

	got, ok := store.Get(entry.Indicator, intel.SourceDShield)
	require.True(t, ok)
	assert.Equal(t, entry.Payload, got.Payload)
	assert.Equal(t, intel.SourceDShield, got.Source)
}

func TestStoreSourcesDoNotCollide(t *testing.T) {
	store, _ := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.Put(testEntry(t, "8.8.8.8", intel.SourceDShield, time.Hour, now)))

	_, ok := store.Get(mustParse(t, "8.8.8.8"), intel.SourceVirusTotal)
	assert.False(t, ok, "entry for one source must not satisfy another")
}

func TestStoreExpiredIsMiss(t *testing.T) {
	store, _ := openTestStore(t)

	start := time.Now()
	store.now = func() time.Time { return start }

	entry := testEntry(t, "8.8.8.8", intel.SourceDShield, time.Minute, start)
	require.NoError(t, store.Put(entry))

	_, ok := store.Get(entry.Indicator, intel.SourceDShield)
	require.True(t, ok, "fresh entry should hit")

	store.now = func() time.Time { return start.Add(time.Minute) }
	_, ok = store.Get(entry.Indicator, intel.SourceDShield)
	assert.False(t, ok, "entry at exactly its expiry is stale")
}

func TestStorePutOverwrites(t *testing.T) {
	store, _ := openTestStore(t)
	now := time.Now()

	first := testEntry(t, "8.8.8.8", intel.SourceDShield, time.Hour, now)
	require.NoError(t, store.Put(first))

	second := testEntry(t, "8.8.8.8", intel.SourceDShield, time.Hour, now)
	second.Payload = json.RawMessage(`{"score":99}`)
	require.NoError(t, store.Put(second))

	got, ok := store.Get(first.Indicator, intel.SourceDShield)
	require.True(t, ok)
	assert.JSONEq(t, `{"score":99}`, string(got.Payload))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	entry := testEntry(t, "evil.example.com", intel.SourceThreatFox, time.Hour, time.Now())
	require.NoError(t, store.Put(entry))
	require.NoError(t, store.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get(entry.Indicator, intel.SourceThreatFox)
	require.True(t, ok, "entry should survive restart")
	assert.Equal(t, entry.Payload, got.Payload)
}

func TestStoreSweepRemovesExpired(t *testing.T) {
	store, _ := openTestStore(t)

	start := time.Now()
	store.now = func() time.Time { return start }

	require.NoError(t, store.Put(testEntry(t, "8.8.8.8", intel.SourceDShield, time.Minute, start)))
	require.NoError(t, store.Put(testEntry(t, "1.1.1.1", intel.SourceDShield, time.Hour, start)))

	store.now = func() time.Time { return start.Add(5 * time.Minute) }

	removed, err := store.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats := store.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.ValidEntries)
}

func TestStoreStats(t *testing.T) {
	store, path := openTestStore(t)

	start := time.Now()
	store.now = func() time.Time { return start }

	require.NoError(t, store.Put(testEntry(t, "8.8.8.8", intel.SourceDShield, time.Minute, start)))
	require.NoError(t, store.Put(testEntry(t, "1.1.1.1", intel.SourceDShield, time.Hour, start)))

	store.now = func() time.Time { return start.Add(5 * time.Minute) }

	stats := store.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ValidEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, path, stats.Path)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func mustParse(t *testing.T, value string) indicator.Indicator {
	t.Helper()
	ind, err := indicator.Parse(value)
	require.NoError(t, err)
	return ind
}
