// Package rotation picks personalization values fairly: least-used first,
// ties broken by oldest last-used. Datasets and rotation state live in
// flat JSON files so operators can inspect and edit them directly.
package rotation

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/fsutil"
)

const (
	CategoryNames      = "names"
	CategoryDevelopers = "developers"
)

// entry tracks rotation state for a single dataset item.
type entry struct {
	UseCount int    `json:"use_count"`
	LastUsed string `json:"last_used,omitempty"`
	Disabled bool   `json:"disabled"`
}

type stateMeta struct {
	TotalNames      int    `json:"total_names"`
	TotalDevelopers int    `json:"total_developers"`
	LastUpdate      string `json:"last_update,omitempty"`
}

type state struct {
	Names      map[string]*entry `json:"names"`
	Developers map[string]*entry `json:"developers"`
	Meta       stateMeta         `json:"_meta"`
}

// Pair is one name/developer selection.
type Pair struct {
	Name      string `json:"name"`
	Developer string `json:"developer"`
	Timestamp string `json:"timestamp"`
}

// CategoryStats aggregates rotation health for one dataset.
type CategoryStats struct {
	TotalItems      int               `json:"total_items"`
	Enabled         int               `json:"enabled"`
	Disabled        int               `json:"disabled"`
	UsedAtLeastOnce int               `json:"used_at_least_once"`
	NeverUsed       int               `json:"never_used"`
	Entries         map[string]*entry `json:"entries"`
}

// Stats is the full rotation report.
type Stats struct {
	Names      CategoryStats `json:"names"`
	Developers CategoryStats `json:"developers"`
	Meta       stateMeta     `json:"_meta"`
	Timestamp  string        `json:"timestamp"`
}

// Engine rotates through name and developer datasets. All methods are
// safe for concurrent use; state is persisted after every mutation.
type Engine struct {
	mu        sync.Mutex
	namesPath string
	devsPath  string
	statePath string
	log       *zap.Logger
	now       func() time.Time
}

func NewEngine(namesPath, devsPath, statePath string, log *zap.Logger) *Engine {
	return &Engine{
		namesPath: namesPath,
		devsPath:  devsPath,
		statePath: statePath,
		log:       log,
		now:       time.Now,
	}
}

type dataset struct {
	Items []string `json:"items"`
}

func loadDataset(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var ds dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil
	}
	out := make([]string, 0, len(ds.Items))
	for _, item := range ds.Items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e *Engine) loadState() *state {
	st := &state{
		Names:      map[string]*entry{},
		Developers: map[string]*entry{},
	}
	raw, err := os.ReadFile(e.statePath)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(raw, st); err != nil {
		e.log.Warn("rotation state unreadable, starting fresh",
			zap.String("path", e.statePath), zap.Error(err))
		return &state{Names: map[string]*entry{}, Developers: map[string]*entry{}}
	}
	if st.Names == nil {
		st.Names = map[string]*entry{}
	}
	if st.Developers == nil {
		st.Developers = map[string]*entry{}
	}
	return st
}

func (e *Engine) saveState(st *state) error {
	st.Meta.TotalNames = len(loadDataset(e.namesPath))
	st.Meta.TotalDevelopers = len(loadDataset(e.devsPath))
	st.Meta.LastUpdate = e.ts()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rotation state: %w", err)
	}
	return fsutil.WriteFileAtomic(e.statePath, raw)
}

func (e *Engine) ts() string {
	return e.now().UTC().Format("2006-01-02T15:04:05")
}

// selectNext picks the least-used enabled item, ties broken by oldest
// last-used, then lexically for determinism. Returns "" when the dataset
// is empty or everything is disabled.
func selectNext(items map[string]*entry, ds []string) string {
	if len(ds) == 0 {
		return ""
	}
	for _, item := range ds {
		if _, ok := items[item]; !ok {
			items[item] = &entry{}
		}
	}

	candidates := make([]string, 0, len(ds))
	for _, item := range ds {
		if !items[item].Disabled {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := items[candidates[i]], items[candidates[j]]
		if a.UseCount != b.UseCount {
			return a.UseCount < b.UseCount
		}
		if a.LastUsed != b.LastUsed {
			return a.LastUsed < b.LastUsed
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}

// NextName advances the name rotation and returns the selection, or ""
// when the dataset has no usable entries.
func (e *Engine) NextName() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next(CategoryNames)
}

// NextDeveloper advances the developer rotation.
func (e *Engine) NextDeveloper() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next(CategoryDevelopers)
}

// NextPair advances both rotations together.
func (e *Engine) NextPair() (Pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, err := e.next(CategoryNames)
	if err != nil {
		return Pair{}, err
	}
	dev, err := e.next(CategoryDevelopers)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Name: name, Developer: dev, Timestamp: e.ts()}, nil
}

func (e *Engine) next(category string) (string, error) {
	st := e.loadState()

	var items map[string]*entry
	var ds []string
	switch category {
	case CategoryNames:
		items, ds = st.Names, loadDataset(e.namesPath)
	case CategoryDevelopers:
		items, ds = st.Developers, loadDataset(e.devsPath)
	default:
		return "", fmt.Errorf("unknown rotation category %q", category)
	}

	nxt := selectNext(items, ds)
	if nxt == "" {
		e.log.Warn("rotation has no usable entries", zap.String("category", category))
		return "", nil
	}

	items[nxt].UseCount++
	items[nxt].LastUsed = e.ts()
	if err := e.saveState(st); err != nil {
		return "", err
	}
	return nxt, nil
}

// Reset clears rotation counters for the given category, or both when
// category is empty.
func (e *Engine) Reset(category string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.loadState()
	switch category {
	case "":
		st.Names = map[string]*entry{}
		st.Developers = map[string]*entry{}
	case CategoryNames:
		st.Names = map[string]*entry{}
	case CategoryDevelopers:
		st.Developers = map[string]*entry{}
	default:
		return fmt.Errorf("unknown rotation category %q", category)
	}
	return e.saveState(st)
}

// Stats reports per-entry and aggregate rotation state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.loadState()
	return Stats{
		Names:      buildCategoryStats(st.Names, loadDataset(e.namesPath)),
		Developers: buildCategoryStats(st.Developers, loadDataset(e.devsPath)),
		Meta:       st.Meta,
		Timestamp:  e.ts(),
	}
}

func buildCategoryStats(items map[string]*entry, ds []string) CategoryStats {
	stats := CategoryStats{TotalItems: len(ds), Entries: items}
	for _, item := range ds {
		meta, ok := items[item]
		if !ok {
			stats.NeverUsed++
			continue
		}
		if meta.Disabled {
			stats.Disabled++
		} else {
			stats.Enabled++
		}
		if meta.UseCount > 0 {
			stats.UsedAtLeastOnce++
		} else {
			stats.NeverUsed++
		}
	}
	return stats
}
