package domain

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hybridaudio/stemforge/internal/alerts"
	"github.com/hybridaudio/stemforge/internal/audio"
	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/config"
	"github.com/hybridaudio/stemforge/internal/fsutil"
	"github.com/hybridaudio/stemforge/internal/ports"
	"github.com/hybridaudio/stemforge/internal/stem"
)

// Consistency classes for one identifier across the local and remote
// copies of its audio.
const (
	ClassMatch      = "match"
	ClassLocalOnly  = "local_only"
	ClassRemoteOnly = "remote_only"
	ClassMissing    = "missing"
	ClassMismatch   = "checksum_mismatch"
)

// DriftRecord is one identifier whose copies disagree with the index.
type DriftRecord struct {
	ID     string `json:"id"`
	Class  string `json:"class"`
	Detail string `json:"detail,omitempty"`
}

// AuditReport summarizes one consistency pass.
type AuditReport struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Took      time.Duration  `json:"took"`
	Checked   int            `json:"checked"`
	Matched   int            `json:"matched"`
	Drift     []DriftRecord  `json:"drift,omitempty"`
	ByClass   map[string]int `json:"by_class"`
}

// RepairAction records how one drifted identifier was resolved.
type RepairAction struct {
	ID     string `json:"id"`
	Class  string `json:"class"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// RepairReport summarizes one repair pass. Repair is idempotent: running
// it against an already-consistent cache performs no actions.
type RepairReport struct {
	RunID    string         `json:"run_id"`
	Took     time.Duration  `json:"took"`
	Actions  []RepairAction `json:"actions"`
	Repaired int            `json:"repaired"`
	Failed   int            `json:"failed"`
}

// ConsistencyService compares the index against local files and the
// remote store, and brings the three back into agreement.
type ConsistencyService struct {
	cfg    *config.Config
	index  *cache.Index
	stems  *StemsService
	store  ports.ObjectStore // nil disables remote checks
	alerts *alerts.Service
	log    *zap.Logger
}

func NewConsistencyService(cfg *config.Config, index *cache.Index, stems *StemsService, store ports.ObjectStore, alerts *alerts.Service, log *zap.Logger) *ConsistencyService {
	return &ConsistencyService{cfg: cfg, index: index, stems: stems, store: store, alerts: alerts, log: log}
}

// Audit walks the index entries within scope and classifies each one
// against the local file and the remote listing for the same scope. The
// walk honors ctx between identifiers so a long audit can be cancelled
// cleanly.
func (s *ConsistencyService) Audit(ctx context.Context, scope cache.Filter) (*AuditReport, error) {
	started := time.Now()
	report := &AuditReport{
		RunID:     xid.New().String(),
		StartedAt: started.UTC(),
		ByClass:   map[string]int{},
	}

	entries := s.index.List(cache.Filter{
		Category:     scope.Category,
		Prefix:       scope.Prefix,
		IncludeStale: true,
	})

	remote := map[string]bool{}
	if s.store != nil {
		keys, err := s.store.List(ctx, remotePrefix(scope.Category))
		if err != nil {
			return nil, fmt.Errorf("list remote scope: %w", err)
		}
		for _, key := range keys {
			remote[key] = true
		}
	}

	claimed := make(map[string]bool, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		key := remoteKeyFor(entry)
		claimed[key] = true
		class, detail, err := s.classify(ctx, entry, key, remote)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", entry.ID, err)
		}

		report.Checked++
		report.ByClass[class]++
		if class == ClassMatch {
			report.Matched++
			continue
		}
		report.Drift = append(report.Drift, DriftRecord{ID: entry.ID, Class: class, Detail: detail})
	}

	for key := range remote {
		if claimed[key] {
			continue
		}
		id := strings.TrimSuffix(path.Base(key), ".wav")
		if _, ok := s.index.LookupAny(id); ok {
			// Indexed, just outside the requested scope.
			continue
		}
		s.log.Warn("remote object not registered in the index",
			zap.String("run_id", report.RunID), zap.String("key", key))
	}

	report.Took = time.Since(started)
	s.log.Info("consistency audit finished",
		zap.String("run_id", report.RunID),
		zap.Int("checked", report.Checked),
		zap.Int("drifted", len(report.Drift)),
		zap.Duration("took", report.Took))

	if len(report.Drift) > 0 {
		_ = s.alerts.Notify(ctx, "consistency",
			fmt.Errorf("%d of %d identifiers drifted", len(report.Drift), report.Checked),
			"run "+report.RunID)
	}
	return report, nil
}

// classify determines the consistency class for one entry. Both sides
// are compared by checksum, never by presence alone, so a silently
// corrupted copy is never reported as match.
func (s *ConsistencyService) classify(ctx context.Context, entry cache.Entry, key string, remote map[string]bool) (class, detail string, err error) {
	localOK := false
	checksumOK := false
	raw, readErr := os.ReadFile(entry.Path)
	if readErr == nil {
		localOK = true
		checksumOK = audio.Checksum(raw) == entry.Checksum
	} else if !os.IsNotExist(readErr) {
		return "", "", readErr
	}

	remoteOK := false
	remoteSumOK := false
	if s.store != nil && remote[key] {
		remoteRaw, getErr := s.store.Get(ctx, key)
		if getErr != nil {
			return "", "", getErr
		}
		remoteOK = true
		remoteSumOK = audio.Checksum(remoteRaw) == entry.Checksum
	}

	switch {
	case localOK && !checksumOK:
		return ClassMismatch, "local bytes do not match the recorded checksum", nil
	case localOK && remoteOK && !remoteSumOK:
		return ClassMismatch, "remote bytes do not match the recorded checksum", nil
	case localOK && remoteOK:
		return ClassMatch, "", nil
	case localOK:
		if s.store == nil {
			// No remote configured; local alone is whole.
			return ClassMatch, "", nil
		}
		return ClassLocalOnly, "remote copy absent", nil
	case remoteOK:
		return ClassRemoteOnly, "local file absent", nil
	default:
		return ClassMissing, "no copy exists anywhere", nil
	}
}

// remoteKeyFor derives the object-store key for an entry. The key is a
// pure function of the identifier, so entries recorded before a mirror
// succeeded still map to the same remote location.
func remoteKeyFor(entry cache.Entry) string {
	if entry.RemoteKey != "" {
		return entry.RemoteKey
	}
	return stem.RemoteKey(entry.ID)
}

// remotePrefix is the object-store prefix covering an audit scope.
func remotePrefix(cat stem.Category) string {
	if cat == "" {
		return "stems/"
	}
	return "stems/" + string(cat) + "/"
}

// Repair audits and then resolves every drifted identifier with bounded
// parallelism. Per-identifier failures are recorded, never fatal to the
// run.
func (s *ConsistencyService) Repair(ctx context.Context, scope cache.Filter) (*RepairReport, error) {
	started := time.Now()
	audit, err := s.Audit(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{RunID: xid.New().String()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentBuilds)

	for _, rec := range audit.Drift {
		rec := rec
		g.Go(func() error {
			action, repairErr := s.repairOne(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			a := RepairAction{ID: rec.ID, Class: rec.Class, Action: action}
			if repairErr != nil {
				a.Error = repairErr.Error()
				report.Failed++
			} else {
				report.Repaired++
			}
			report.Actions = append(report.Actions, a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Took = time.Since(started)
	s.log.Info("consistency repair finished",
		zap.String("run_id", report.RunID),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Took))

	if report.Failed > 0 {
		_ = s.alerts.Notify(ctx, "consistency",
			fmt.Errorf("%d identifiers could not be repaired", report.Failed),
			"run "+report.RunID)
	}
	return report, nil
}

func (s *ConsistencyService) repairOne(ctx context.Context, rec DriftRecord) (string, error) {
	entry, ok := s.index.LookupAny(rec.ID)
	if !ok {
		return "skip", fmt.Errorf("entry vanished from index")
	}

	key := remoteKeyFor(entry)
	switch rec.Class {
	case ClassLocalOnly:
		raw, err := os.ReadFile(entry.Path)
		if err != nil {
			return "upload", err
		}
		if err := s.store.Put(ctx, key, raw, "audio/wav"); err != nil {
			return "upload", err
		}
		return "upload", nil

	case ClassRemoteOnly:
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			return "download", err
		}
		if sum := audio.Checksum(raw); sum != entry.Checksum {
			// Remote copy is corrupt too; fall back to regeneration.
			if _, err := s.stems.Rebuild(ctx, rec.ID); err != nil {
				return "regenerate", err
			}
			return "regenerate", nil
		}
		if err := fsutil.WriteFileAtomic(entry.Path, raw); err != nil {
			return "download", err
		}
		entry.RemoteKey = key
		if err := s.index.Put(entry); err != nil {
			return "download", err
		}
		return "download", nil

	case ClassMissing, ClassMismatch:
		if _, err := s.stems.Rebuild(ctx, rec.ID); err != nil {
			return "regenerate", err
		}
		return "regenerate", nil

	default:
		return "skip", fmt.Errorf("unknown drift class %q", rec.Class)
	}
}
