package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/stem"
)

func testContract() stem.Contract {
	return stem.Contract{
		ModelID:        "sonic-3",
		Container:      "wav",
		Encoding:       "pcm_s16le",
		SampleRate:     48000,
		BitDepth:       16,
		Channels:       1,
		BackendVersion: "2025-04-16",
	}
}

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "stems_index.json"), testContract(), zap.NewNop())
	require.NoError(t, err)
	return idx
}

func testEntry(id string) Entry {
	return Entry{
		ID:         id,
		Category:   stem.CategoryName,
		Text:       "Maria",
		Path:       "/tmp/" + id + ".wav",
		SampleRate: 48000,
		BitDepth:   16,
		Channels:   1,
		DurationMS: 740,
		Checksum:   "abc123",
		Signature:  testContract().Signature(),
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	idx := testIndex(t)
	assert.Empty(t, idx.List(Filter{}))
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stems_index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	idx, err := Open(path, testContract(), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, idx.List(Filter{}))
}

func TestPutAndLookup(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Put(testEntry("stem.name.maria")))

	got, ok := idx.Lookup("stem.name.maria")
	require.True(t, ok)
	assert.Equal(t, "Maria", got.Text)
	assert.False(t, got.Created.IsZero())
	assert.False(t, got.LastVerified.IsZero())

	_, ok = idx.Lookup("stem.name.ghost")
	assert.False(t, ok)
}

func TestPutIdempotentBumpsLastVerifiedOnly(t *testing.T) {
	idx := testIndex(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return now }

	require.NoError(t, idx.Put(testEntry("stem.name.maria")))
	first, _ := idx.Lookup("stem.name.maria")

	now = now.Add(time.Hour)
	require.NoError(t, idx.Put(testEntry("stem.name.maria")))
	second, _ := idx.Lookup("stem.name.maria")

	assert.Equal(t, first.Created, second.Created)
	assert.True(t, second.LastVerified.After(first.LastVerified))
}

func TestStaleSignatureIsAMiss(t *testing.T) {
	idx := testIndex(t)
	e := testEntry("stem.name.maria")
	e.Signature = "deadbeef"
	require.NoError(t, idx.Put(e))

	_, ok := idx.Lookup("stem.name.maria")
	assert.False(t, ok, "stale entry must not hit")

	got, ok := idx.LookupAny("stem.name.maria")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", got.Signature)

	statuses := idx.ListDetailed(Filter{IncludeStale: true})
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Stale)
}

func TestNewSignatureSupersedesAndArchives(t *testing.T) {
	idx := testIndex(t)
	old := testEntry("stem.name.maria")
	old.Signature = "oldsig"
	old.Checksum = "oldsum"
	require.NoError(t, idx.Put(old))

	require.NoError(t, idx.Put(testEntry("stem.name.maria")))

	got, ok := idx.Lookup("stem.name.maria")
	require.True(t, ok)
	assert.Equal(t, testContract().Signature(), got.Signature)

	summary := idx.Summarize()
	assert.Equal(t, 1, summary.Archived)
}

func TestInvalidate(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Put(testEntry("stem.name.maria")))

	assert.True(t, idx.Invalidate("stem.name.maria"))
	assert.False(t, idx.Invalidate("stem.name.maria"), "second invalidate is a no-op")

	_, ok := idx.LookupAny("stem.name.maria")
	assert.False(t, ok)
}

func TestListFilters(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Put(testEntry("stem.name.maria")))

	dev := testEntry("stem.developer.nova_labs")
	dev.Category = stem.CategoryDeveloper
	require.NoError(t, idx.Put(dev))

	sil := testEntry("silence.250ms")
	sil.Category = stem.CategorySilence
	require.NoError(t, idx.Put(sil))

	assert.Len(t, idx.List(Filter{}), 3)
	assert.Len(t, idx.List(Filter{Category: stem.CategoryName}), 1)
	assert.Len(t, idx.List(Filter{Prefix: "silence."}), 1)

	// Sorted by identifier.
	all := idx.List(Filter{})
	assert.Equal(t, "silence.250ms", all[0].ID)
}

func TestReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stems_index.json")
	idx, err := Open(path, testContract(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, idx.Put(testEntry("stem.name.maria")))

	reopened, err := Open(path, testContract(), zap.NewNop())
	require.NoError(t, err)
	got, ok := reopened.Lookup("stem.name.maria")
	require.True(t, ok)
	assert.Equal(t, "Maria", got.Text)
}

func TestBuildRunsOncePerIdentifier(t *testing.T) {
	idx := testIndex(t)
	var builds atomic.Int32

	build := func(ctx context.Context) (Entry, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return testEntry("stem.name.maria"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := idx.Build(context.Background(), "stem.name.maria", build)
			assert.NoError(t, err)
			assert.Equal(t, "stem.name.maria", e.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "concurrent callers must share one build")

	// A later call hits the cache without building.
	_, err := idx.Build(context.Background(), "stem.name.maria", build)
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())
}

func TestBuildHonorsContext(t *testing.T) {
	idx := testIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Build(ctx, "stem.name.maria", func(ctx context.Context) (Entry, error) {
		time.Sleep(50 * time.Millisecond)
		return testEntry("stem.name.maria"), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	idx := testIndex(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "stem.name.maria.wav")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))

	onDisk := testEntry("stem.name.maria")
	onDisk.Path = path
	require.NoError(t, idx.Put(onDisk))

	missing := testEntry("stem.name.ghost")
	missing.Path = filepath.Join(dir, "nope.wav")
	require.NoError(t, idx.Put(missing))

	s := idx.Summarize()
	assert.Equal(t, 2, s.TotalStems)
	assert.Equal(t, int64(2048), s.TotalDiskBytes)
	assert.Equal(t, []string{"stem.name.ghost"}, s.MissingFiles)
	assert.Equal(t, 2, s.ByCategory[stem.CategoryName])
}
