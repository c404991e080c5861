// Package cache implements the content-addressed stem registry backed by a
// flat JSON mapping file. The index is the ground truth for what should
// exist; physical bytes live wherever entries point.
package cache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/fsutil"
	"github.com/hybridaudio/stemforge/internal/stem"
)

// Entry maps one fragment identifier to its storage locations, format
// metadata and the contract signature it was produced under.
type Entry struct {
	ID           string        `json:"id"`
	Category     stem.Category `json:"category"`
	Text         string        `json:"text,omitempty"`
	Path         string        `json:"path"`
	RemoteKey    string        `json:"remote_key,omitempty"`
	SampleRate   int           `json:"sample_rate"`
	BitDepth     int           `json:"bit_depth"`
	Channels     int           `json:"channels"`
	DurationMS   float64       `json:"duration_ms"`
	Checksum     string        `json:"checksum"`
	Signature    string        `json:"contract_signature"`
	Created      time.Time     `json:"created"`
	LastVerified time.Time     `json:"last_verified"`
}

// Status pairs an entry with its staleness against the current contract.
type Status struct {
	Entry
	Stale bool `json:"stale"`
}

// Filter narrows List results.
type Filter struct {
	Category     stem.Category
	Prefix       string
	IncludeStale bool
}

type indexFile struct {
	Stems   map[string]Entry `json:"stems"`
	Archive []Entry          `json:"archive,omitempty"`
}

// Index is the single shared mutable structure of the system. All
// mutation goes through Put/Invalidate under the lock; builds for a given
// identifier are collapsed through a singleflight group.
type Index struct {
	path     string
	contract stem.Contract
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	archive []Entry

	group singleflight.Group

	now func() time.Time
}

// Open loads the index file, creating an empty one when missing. A
// malformed file is treated as empty and rewritten on the next change.
func Open(path string, contract stem.Contract, log *zap.Logger) (*Index, error) {
	idx := &Index{
		path:     path,
		contract: contract,
		log:      log,
		entries:  map[string]Entry{},
		now:      time.Now,
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := idx.save(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read index %s: %w", path, err)
	default:
		var file indexFile
		if err := json.Unmarshal(raw, &file); err != nil {
			log.Warn("index file corrupted, starting empty", zap.String("path", path), zap.Error(err))
		} else {
			if file.Stems != nil {
				idx.entries = file.Stems
			}
			idx.archive = file.Archive
		}
	}
	return idx, nil
}

// Signature returns the digest of the currently configured contract.
func (x *Index) Signature() string { return x.contract.Signature() }

// Lookup returns the entry for id. Entries whose contract signature no
// longer matches the configured contract are stale and report a miss here.
func (x *Index) Lookup(id string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	if !ok || e.Signature != x.contract.Signature() {
		return Entry{}, false
	}
	return e, true
}

// LookupAny returns the entry regardless of staleness. Audit paths use
// this; cache-hit paths must use Lookup.
func (x *Index) LookupAny(id string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	return e, ok
}

// Put registers or refreshes an entry. Writing the same id with an
// identical signature and checksum only bumps last-verified; a different
// signature supersedes the prior entry and moves it to the archive
// (physical file removal stays an explicit, separate step).
func (x *Index) Put(e Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now().UTC()
	prev, exists := x.entries[e.ID]

	if exists && prev.Signature == e.Signature && prev.Checksum == e.Checksum {
		prev.LastVerified = now
		x.entries[e.ID] = prev
		return x.save()
	}

	if exists && prev.Signature != e.Signature {
		x.archive = append(x.archive, prev)
		x.log.Info("cache entry superseded",
			zap.String("id", e.ID),
			zap.String("old_signature", short(prev.Signature)),
			zap.String("new_signature", short(e.Signature)))
	}

	if e.Created.IsZero() {
		if exists {
			e.Created = prev.Created
		} else {
			e.Created = now
		}
	}
	e.LastVerified = now
	x.entries[e.ID] = e
	return x.save()
}

// Invalidate removes the index entry. The underlying bytes are left for
// the caller to reclaim; a build pending elsewhere may still need them.
func (x *Index) Invalidate(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[id]; !ok {
		return false
	}
	delete(x.entries, id)
	if err := x.save(); err != nil {
		x.log.Error("index save after invalidate failed", zap.String("id", id), zap.Error(err))
	}
	return true
}

// List returns matching entries sorted by identifier. Stale entries are
// excluded unless the filter asks for them.
func (x *Index) List(f Filter) []Entry {
	statuses := x.ListDetailed(f)
	out := make([]Entry, len(statuses))
	for i, s := range statuses {
		out[i] = s.Entry
	}
	return out
}

// ListDetailed is the extended listing mode: every matching entry plus
// whether its signature still matches the configured contract.
func (x *Index) ListDetailed(f Filter) []Status {
	x.mu.RLock()
	defer x.mu.RUnlock()

	current := x.contract.Signature()
	var out []Status
	for id, e := range x.entries {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Prefix != "" && !strings.HasPrefix(id, f.Prefix) {
			continue
		}
		stale := e.Signature != current
		if stale && !f.IncludeStale {
			continue
		}
		out = append(out, Status{Entry: e, Stale: stale})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Build runs fn at most once per identifier across concurrent callers.
// A cache hit short-circuits; otherwise the winning caller's fn result is
// registered and shared with every waiter. When the waiter's context
// expires first, the waiter fails but the in-flight build keeps its own
// lifecycle — its result is only promoted if it completes successfully.
func (x *Index) Build(ctx context.Context, id string, fn func(ctx context.Context) (Entry, error)) (Entry, error) {
	if e, ok := x.Lookup(id); ok {
		return e, nil
	}

	ch := x.group.DoChan(id, func() (any, error) {
		if e, ok := x.Lookup(id); ok {
			return e, nil
		}
		e, err := fn(ctx)
		if err != nil {
			return Entry{}, err
		}
		if err := x.Put(e); err != nil {
			return Entry{}, err
		}
		// Re-read so waiters observe the registered timestamps.
		if stored, ok := x.Lookup(id); ok {
			return stored, nil
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

func (x *Index) save() error {
	raw, err := json.MarshalIndent(indexFile{Stems: x.entries, Archive: x.archive}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(x.path, raw); err != nil {
		return errs.External("index", "persist index file", false, err)
	}
	return nil
}

func short(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
