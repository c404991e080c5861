package cache

import (
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/hybridaudio/stemforge/internal/stem"
)

// Summary reports aggregate cache health for the listing surface.
type Summary struct {
	TotalStems     int                   `json:"total_stems"`
	ByCategory     map[stem.Category]int `json:"by_category"`
	Stale          int                   `json:"stale"`
	Archived       int                   `json:"archived"`
	MissingFiles   []string              `json:"missing_files,omitempty"`
	TotalDiskBytes int64                 `json:"total_disk_bytes"`
	TotalDiskHuman string                `json:"total_disk_human"`
	Signature      string                `json:"contract_signature"`
}

// Summarize walks every entry, checks its file on disk and tallies sizes
// and staleness.
func (x *Index) Summarize() Summary {
	x.mu.RLock()
	defer x.mu.RUnlock()

	current := x.contract.Signature()
	s := Summary{
		ByCategory: make(map[stem.Category]int),
		Archived:   len(x.archive),
		Signature:  current,
	}

	for id, e := range x.entries {
		s.TotalStems++
		s.ByCategory[e.Category]++
		if e.Signature != current {
			s.Stale++
		}
		info, err := os.Stat(e.Path)
		if err != nil {
			s.MissingFiles = append(s.MissingFiles, id)
			continue
		}
		s.TotalDiskBytes += info.Size()
	}

	sort.Strings(s.MissingFiles)
	s.TotalDiskHuman = humanize.Bytes(uint64(s.TotalDiskBytes))
	return s
}
