package domain

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/alerts"
	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/stem"
)

func newConsistencyFixture(t *testing.T) (*ConsistencyService, *StemsService, *cache.Index, *fakeStore) {
	t.Helper()
	cfg := testConfig(t)
	index, err := cache.Open(cfg.IndexPath, cfg.Contract(), zap.NewNop())
	require.NoError(t, err)

	store := newFakeStore()
	stems := NewStemsService(cfg, index, &fakeSynth{}, store, zap.NewNop())
	alertSvc := alerts.NewService(alerts.NewInfra(zap.NewNop(), ""))
	svc := NewConsistencyService(cfg, index, stems, store, alertSvc, zap.NewNop())
	return svc, stems, index, store
}

func seed(t *testing.T, stems *StemsService) []cache.Entry {
	t.Helper()
	ctx := context.Background()
	var entries []cache.Entry
	for _, label := range []string{"Maria", "Ivan"} {
		e, err := stems.EnsureStem(ctx, stem.CategoryName, label, "")
		require.NoError(t, err)
		entries = append(entries, e)
	}
	sil, err := stems.EnsureSilence(ctx, 250)
	require.NoError(t, err)
	return append(entries, sil)
}

func TestAuditAllMatch(t *testing.T) {
	svc, stems, _, _ := newConsistencyFixture(t)
	seed(t, stems)

	report, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Matched)
	assert.Empty(t, report.Drift)
	assert.NotEmpty(t, report.RunID)
}

func TestAuditClassifiesDrift(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	// entries[0]: drop remote -> local_only
	store.delete(entries[0].RemoteKey)
	// entries[1]: drop local -> remote_only
	require.NoError(t, os.Remove(entries[1].Path))
	// silence: corrupt local bytes -> checksum_mismatch
	require.NoError(t, os.WriteFile(entries[2].Path, []byte("garbage"), 0o644))

	report, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Zero(t, report.Matched)

	classes := map[string]string{}
	for _, d := range report.Drift {
		classes[d.ID] = d.Class
	}
	assert.Equal(t, ClassLocalOnly, classes[entries[0].ID])
	assert.Equal(t, ClassRemoteOnly, classes[entries[1].ID])
	assert.Equal(t, ClassMismatch, classes[entries[2].ID])
}

func TestAuditMissingEverywhere(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	require.NoError(t, os.Remove(entries[0].Path))
	store.delete(entries[0].RemoteKey)

	report, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, report.Drift)
	assert.Equal(t, ClassMissing, report.Drift[0].Class)
}

func TestAuditHonorsContext(t *testing.T) {
	svc, stems, _, _ := newConsistencyFixture(t)
	seed(t, stems)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Audit(ctx, cache.Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepairRestoresConsistency(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	store.delete(entries[0].RemoteKey)               // local_only -> upload
	require.NoError(t, os.Remove(entries[1].Path))   // remote_only -> download
	require.NoError(t, os.WriteFile(entries[2].Path, // mismatch -> regenerate
		[]byte("garbage"), 0o644))

	report, err := svc.Repair(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Repaired)
	assert.Zero(t, report.Failed)

	actions := map[string]string{}
	for _, a := range report.Actions {
		actions[a.ID] = a.Action
	}
	assert.Equal(t, "upload", actions[entries[0].ID])
	assert.Equal(t, "download", actions[entries[1].ID])
	assert.Equal(t, "regenerate", actions[entries[2].ID])

	// A second audit finds nothing left to fix.
	audit, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Empty(t, audit.Drift)
}

func TestRepairIsIdempotent(t *testing.T) {
	svc, stems, _, _ := newConsistencyFixture(t)
	seed(t, stems)

	report, err := svc.Repair(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Empty(t, report.Actions)
	assert.Zero(t, report.Repaired)
	assert.Zero(t, report.Failed)
}

func TestRepairContinuesPastFailures(t *testing.T) {
	svc, stems, index, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	// Unrepairable: a generic segment with no recorded text.
	orphan := cache.Entry{
		ID:        "segment.lost",
		Category:  stem.CategoryGeneric,
		Path:      entries[0].Path + ".orphan",
		Checksum:  "nope",
		Signature: index.Signature(),
	}
	require.NoError(t, index.Put(orphan))

	// Repairable alongside it.
	store.delete(entries[0].RemoteKey)

	report, err := svc.Repair(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, 1, report.Failed)

	var failedIDs []string
	for _, a := range report.Actions {
		if a.Error != "" {
			failedIDs = append(failedIDs, a.ID)
		}
	}
	assert.Equal(t, []string{"segment.lost"}, failedIDs)
}

func TestAuditDetectsRemoteCorruption(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	// Remote copy silently replaced; local copy intact. Presence alone
	// would report a match, the checksum comparison must not.
	require.NoError(t, store.Put(context.Background(), entries[0].RemoteKey, []byte("rotten"), "audio/wav"))

	report, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Matched)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, entries[0].ID, report.Drift[0].ID)
	assert.Equal(t, ClassMismatch, report.Drift[0].Class)
}

func TestRepairRegeneratesCorruptRemote(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	require.NoError(t, store.Put(context.Background(), entries[0].RemoteKey, []byte("rotten"), "audio/wav"))

	report, err := svc.Repair(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, "regenerate", report.Actions[0].Action)

	audit, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Empty(t, audit.Drift)
}

func TestRepairUploadsAfterFailedMirror(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)

	store.putErr = errors.New("mirror unavailable")
	e, err := stems.EnsureStem(context.Background(), stem.CategoryName, "Maria", "")
	require.NoError(t, err)

	report, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, ClassLocalOnly, report.Drift[0].Class)

	repair, err := svc.Repair(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, repair.Repaired)

	ok, err := store.Exists(context.Background(), e.RemoteKey)
	require.NoError(t, err)
	assert.True(t, ok)

	audit, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Empty(t, audit.Drift)
}

func TestAuditScopeNarrowsTheRun(t *testing.T) {
	svc, stems, _, store := newConsistencyFixture(t)
	entries := seed(t, stems)

	byCategory, err := svc.Audit(context.Background(), cache.Filter{Category: stem.CategoryName})
	require.NoError(t, err)
	assert.Equal(t, 2, byCategory.Checked)

	byPrefix, err := svc.Audit(context.Background(), cache.Filter{Prefix: "silence."})
	require.NoError(t, err)
	assert.Equal(t, 1, byPrefix.Checked)

	// Drift outside the scope is left alone by a scoped repair.
	store.delete(entries[0].RemoteKey)
	report, err := svc.Repair(context.Background(), cache.Filter{Category: stem.CategorySilence})
	require.NoError(t, err)
	assert.Empty(t, report.Actions)

	full, err := svc.Audit(context.Background(), cache.Filter{})
	require.NoError(t, err)
	require.Len(t, full.Drift, 1)
	assert.Equal(t, entries[0].ID, full.Drift[0].ID)
}
