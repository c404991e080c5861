package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/config"
	"github.com/hybridaudio/stemforge/internal/stem"
	"github.com/hybridaudio/stemforge/internal/wavio"
)

// fakeSynth returns a constant valid contract clip and counts calls.
type fakeSynth struct {
	calls atomic.Int32
	fail  error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	clip := &wavio.Clip{SampleRate: 48000, BitDepth: 16, Channels: 1, Samples: make([]int16, 4800)}
	for i := range clip.Samples {
		clip.Samples[i] = int16(i % 1000)
	}
	return clip.Encode(), nil
}

// fakeStore is an in-memory object store. Setting putErr makes the next
// Put fail once, simulating a mirror outage.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), raw...), nil
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		err := f.putErr
		f.putErr = nil
		return err
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeStore) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		BaseDir:             dir,
		StemsDir:            filepath.Join(dir, "stems"),
		OutputDir:           filepath.Join(dir, "output"),
		DataDir:             filepath.Join(dir, "data"),
		IndexPath:           filepath.Join(dir, "stems_index.json"),
		SampleRate:          48000,
		BitDepth:            16,
		Channels:            1,
		Container:           "wav",
		Encoding:            "pcm_s16le",
		ModelID:             "sonic-3",
		CartesiaVersion:     "2025-04-16",
		VoiceID:             "a0e99841-438c-4a64-b679-ae501e7d6091",
		DefaultCrossfadeMS:  10,
		TailFadeMS:          5,
		ClipRunLimit:        4,
		MaxConcurrentBuilds: 4,
		RetryMaxAttempts:    1,
		RetryBaseDelay:      time.Millisecond,
	}
}

func newStemsFixture(t *testing.T, store *fakeStore) (*StemsService, *cache.Index, *fakeSynth) {
	t.Helper()
	cfg := testConfig(t)
	index, err := cache.Open(cfg.IndexPath, cfg.Contract(), zap.NewNop())
	require.NoError(t, err)

	synth := &fakeSynth{}
	var svc *StemsService
	if store != nil {
		svc = NewStemsService(cfg, index, synth, store, zap.NewNop())
	} else {
		svc = NewStemsService(cfg, index, synth, nil, zap.NewNop())
	}
	return svc, index, synth
}

func TestEnsureStemSynthesizesOnceAndCaches(t *testing.T) {
	svc, index, synth := newStemsFixture(t, nil)
	ctx := context.Background()

	e1, err := svc.EnsureStem(ctx, stem.CategoryName, "Maria", "")
	require.NoError(t, err)
	assert.Equal(t, "stem.name.maria", e1.ID)
	assert.Equal(t, "Maria", e1.Text)
	assert.FileExists(t, e1.Path)
	assert.Equal(t, index.Signature(), e1.Signature)

	e2, err := svc.EnsureStem(ctx, stem.CategoryName, "Maria", "")
	require.NoError(t, err)
	assert.Equal(t, e1.Checksum, e2.Checksum)
	assert.Equal(t, int32(1), synth.calls.Load(), "cache hit must not synthesize")
}

func TestEnsureSilenceNeverSynthesizes(t *testing.T) {
	svc, _, synth := newStemsFixture(t, nil)
	ctx := context.Background()

	e, err := svc.EnsureSilence(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, "silence.250ms", e.ID)
	assert.InDelta(t, 250.0, e.DurationMS, 1e-9)
	assert.Zero(t, synth.calls.Load())

	_, err = svc.EnsureSilence(ctx, 250)
	require.NoError(t, err)
	assert.Zero(t, synth.calls.Load())

	_, err = svc.EnsureSilence(ctx, -10)
	assert.Error(t, err)
}

func TestEnsureStemRejectsSilenceCategory(t *testing.T) {
	svc, _, _ := newStemsFixture(t, nil)
	_, err := svc.EnsureStem(context.Background(), stem.CategorySilence, "x", "")
	assert.Error(t, err)
}

func TestEnsureStemMirrorsToRemote(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newStemsFixture(t, store)

	e, err := svc.EnsureStem(context.Background(), stem.CategoryDeveloper, "Nova Labs", "")
	require.NoError(t, err)
	assert.Equal(t, "stems/developer/stem.developer.nova_labs.wav", e.RemoteKey)

	ok, err := store.Exists(context.Background(), e.RemoteKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureStemKeepsRemoteKeyWhenMirrorFails(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("mirror unavailable")
	svc, _, _ := newStemsFixture(t, store)

	e, err := svc.EnsureStem(context.Background(), stem.CategoryName, "Maria", "")
	require.NoError(t, err)
	assert.Equal(t, "stems/name/stem.name.maria.wav", e.RemoteKey,
		"a failed mirror must not erase the deterministic remote key")

	ok, err := store.Exists(context.Background(), e.RemoteKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRebuildRegeneratesFromRecordedText(t *testing.T) {
	svc, index, synth := newStemsFixture(t, nil)
	ctx := context.Background()

	e, err := svc.EnsureSegment(ctx, "greeting", "Hello there")
	require.NoError(t, err)
	require.NoError(t, os.Remove(e.Path))

	rebuilt, err := svc.Rebuild(ctx, e.ID)
	require.NoError(t, err)
	assert.FileExists(t, rebuilt.Path)
	assert.Equal(t, "Hello there", rebuilt.Text)
	assert.Equal(t, int32(2), synth.calls.Load())

	_, ok := index.Lookup(e.ID)
	assert.True(t, ok)
}

func TestRebuildSilence(t *testing.T) {
	svc, _, synth := newStemsFixture(t, nil)
	ctx := context.Background()

	e, err := svc.EnsureSilence(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, os.Remove(e.Path))

	rebuilt, err := svc.Rebuild(ctx, "silence.100ms")
	require.NoError(t, err)
	assert.FileExists(t, rebuilt.Path)
	assert.Zero(t, synth.calls.Load())
}

func TestGenerateBatchCollectsFailures(t *testing.T) {
	svc, _, _ := newStemsFixture(t, nil)

	built, failed, err := svc.GenerateBatch(context.Background(), map[string]string{
		"stem.name.maria": "Maria",
		"silence.200ms":   "",
		"garbage-id":      "whatever",
	})
	require.NoError(t, err)
	assert.Len(t, built, 2)
	require.Len(t, failed, 1)
	assert.Contains(t, failed, "garbage-id")
}

func TestReadFragmentDetectsTampering(t *testing.T) {
	svc, _, _ := newStemsFixture(t, nil)
	ctx := context.Background()

	e, err := svc.EnsureStem(ctx, stem.CategoryName, "Maria", "")
	require.NoError(t, err)

	raw, err := svc.ReadFragment(ctx, e)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	require.NoError(t, os.WriteFile(e.Path, []byte("tampered"), 0o644))
	_, err = svc.ReadFragment(ctx, e)
	assert.Error(t, err)
}
