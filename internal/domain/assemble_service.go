package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/audio"
	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/config"
	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/fsutil"
	"github.com/hybridaudio/stemforge/internal/ports"
	"github.com/hybridaudio/stemforge/internal/stem"
	"github.com/hybridaudio/stemforge/internal/template"
	"github.com/hybridaudio/stemforge/internal/wavio"
)

// MergeModeBitmerge is the only merge mode: sample-exact concatenation
// with cosine crossfades, no resampling, no effects.
const MergeModeBitmerge = "bitmerge"

var placeholderRe = regexp.MustCompile(`\{[^}]+\}`)

// AssembleRequest is one message-assembly job.
type AssembleRequest struct {
	Template *template.Template
	Values   map[string]string
	// Subject names the output file, typically the personalization target.
	Subject string
}

// Artifact describes a finished output file.
type Artifact struct {
	Filename     string              `json:"filename"`
	Path         string              `json:"path"`
	RemoteKey    string              `json:"remote_key,omitempty"`
	DurationMS   float64             `json:"duration_ms"`
	Checksum     string              `json:"checksum"`
	Constituents []audio.Constituent `json:"constituents"`
}

// AssembleService turns a template plus placeholder values into a single
// merged output file. It never touches samples beyond the crossfade math:
// every piece is used exactly as validated.
type AssembleService struct {
	cfg   *config.Config
	stems *StemsService
	index *cache.Index
	store ports.ObjectStore // nil when no remote is configured
	log   *zap.Logger
	now   func() time.Time
}

func NewAssembleService(cfg *config.Config, stems *StemsService, index *cache.Index, store ports.ObjectStore, log *zap.Logger) *AssembleService {
	return &AssembleService{cfg: cfg, stems: stems, index: index, store: store, log: log, now: time.Now}
}

// Assemble resolves the template, ensures every fragment the plan needs,
// merges them and persists the output.
func (s *AssembleService) Assemble(ctx context.Context, req AssembleRequest) (*Artifact, error) {
	t := template.Substitute(req.Template, req.Values)

	// Every declared placeholder must have received a value; a literal
	// {token} must never be spoken.
	for _, seg := range t.Segments {
		if m := placeholderRe.FindString(seg.Text); m != "" {
			return nil, errs.Validation("placeholder",
				"segment %s still contains unsubstituted %s", seg.ID, m)
		}
	}

	plan, err := template.Resolve(t, s.cfg.DefaultCrossfadeMS)
	if err != nil {
		return nil, err
	}

	// Silence stems are part of the cache contract even though the merge
	// synthesizes gaps numerically: auditors and the remote mirror expect
	// them as addressable files.
	for _, ms := range plan.SilenceMS {
		if _, err := s.stems.EnsureSilence(ctx, ms); err != nil {
			return nil, fmt.Errorf("ensure silence %dms: %w", ms, err)
		}
	}

	pieces := make([]audio.Piece, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		entry, err := s.stems.EnsureSegment(ctx, step.Segment.ID, step.Segment.Text)
		if err != nil {
			return nil, fmt.Errorf("ensure segment %q: %w", step.Segment.ID, err)
		}
		raw, err := s.stems.ReadFragment(ctx, entry)
		if err != nil {
			return nil, err
		}
		clip, err := wavio.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode fragment %q: %w", entry.ID, err)
		}
		pieces = append(pieces, audio.Piece{
			ID:          entry.ID,
			Clip:        clip,
			GapMS:       step.GapMS,
			CrossfadeMS: step.CrossfadeMS,
		})
	}

	result, err := audio.Merge(pieces, audio.Options{
		TailFadeMS:   s.cfg.TailFadeMS,
		ClipRunLimit: s.cfg.ClipRunLimit,
	})
	if err != nil {
		return nil, err
	}

	// The output passes through the same gate as every stem.
	if _, err := audio.Validate(result.Bytes, s.cfg.Contract()); err != nil {
		return nil, fmt.Errorf("merged output rejected: %w", err)
	}

	filename := stem.OutputFilename(req.Subject, MergeModeBitmerge, s.now())
	outPath := filepath.Join(s.cfg.OutputDir, filename)
	if err := fsutil.WriteFileAtomic(outPath, result.Bytes); err != nil {
		return nil, fmt.Errorf("persist output: %w", err)
	}

	remoteKey := ""
	if s.store != nil {
		remoteKey = stem.OutputRemoteKey(filename)
		if err := s.store.Put(ctx, remoteKey, result.Bytes, "audio/wav"); err != nil {
			s.log.Warn("output mirror failed",
				zap.String("key", remoteKey), zap.Error(err))
			remoteKey = ""
		}
	}

	s.log.Info("message assembled",
		zap.String("template", plan.TemplateName),
		zap.String("output", filename),
		zap.Float64("duration_ms", result.DurationMS),
		zap.Int("pieces", len(pieces)))

	return &Artifact{
		Filename:     filename,
		Path:         outPath,
		RemoteKey:    remoteKey,
		DurationMS:   result.DurationMS,
		Checksum:     result.Checksum,
		Constituents: result.Constituents,
	}, nil
}

// Preview resolves the template without synthesizing anything, returning
// the plan for dry-run inspection.
func (s *AssembleService) Preview(req AssembleRequest) (*template.Plan, error) {
	t := template.Substitute(req.Template, req.Values)
	return template.Resolve(t, s.cfg.DefaultCrossfadeMS)
}
