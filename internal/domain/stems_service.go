package domain

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hybridaudio/stemforge/internal/audio"
	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/config"
	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/fsutil"
	"github.com/hybridaudio/stemforge/internal/ports"
	"github.com/hybridaudio/stemforge/internal/stem"
)

// StemsService owns the fragment lifecycle: synthesize, validate against
// the contract, persist locally, register in the index and mirror to the
// remote store when one is configured.
type StemsService struct {
	cfg   *config.Config
	index *cache.Index
	synth ports.SynthesisClient
	store ports.ObjectStore // nil when no remote is configured
	log   *zap.Logger
}

func NewStemsService(cfg *config.Config, index *cache.Index, synth ports.SynthesisClient, store ports.ObjectStore, log *zap.Logger) *StemsService {
	return &StemsService{cfg: cfg, index: index, synth: synth, store: store, log: log}
}

// EnsureStem guarantees a categorized stem exists for the label and
// returns its index entry. The spoken text defaults to the humanized
// label when not given.
func (s *StemsService) EnsureStem(ctx context.Context, cat stem.Category, label, text string) (cache.Entry, error) {
	if cat == stem.CategorySilence {
		return cache.Entry{}, errs.Validation("category", "silence stems are duration-addressed, use EnsureSilence")
	}
	if text == "" {
		text = stem.LabelText(stem.Slugify(label))
	}
	return s.ensure(ctx, stem.ID(cat, label), cat, text)
}

// EnsureSegment guarantees a segment fragment for arbitrary template text.
func (s *StemsService) EnsureSegment(ctx context.Context, segmentID, text string) (cache.Entry, error) {
	if text == "" {
		return cache.Entry{}, errs.Validation("text", "segment %q has no text to synthesize", segmentID)
	}
	return s.ensure(ctx, stem.SegmentID(segmentID), stem.CategoryGeneric, text)
}

// EnsureSilence guarantees a silence stem of the given duration. Silence
// is generated locally, never synthesized.
func (s *StemsService) EnsureSilence(ctx context.Context, durationMS int) (cache.Entry, error) {
	if durationMS <= 0 {
		return cache.Entry{}, errs.Validation("duration", "silence duration must be positive, got %d", durationMS)
	}
	id := stem.SilenceID(durationMS)
	return s.index.Build(ctx, id, func(ctx context.Context) (cache.Entry, error) {
		clip := audio.Silence(durationMS, s.cfg.SampleRate)
		raw := clip.Encode()
		report, err := audio.Validate(raw, s.cfg.Contract())
		if err != nil {
			return cache.Entry{}, fmt.Errorf("generated silence failed validation: %w", err)
		}
		return s.register(ctx, id, stem.CategorySilence, "", raw, report)
	})
}

// Rebuild drops the cached entry for an identifier and regenerates it
// from the recorded text. Used by consistency repair.
func (s *StemsService) Rebuild(ctx context.Context, id string) (cache.Entry, error) {
	if ms, ok := stem.SilenceDuration(id); ok {
		s.index.Invalidate(id)
		return s.EnsureSilence(ctx, ms)
	}

	entry, known := s.index.LookupAny(id)
	cat, slug, parsed := stem.ParseID(id)
	if !parsed {
		return cache.Entry{}, errs.Validation("identifier", "cannot parse %q", id)
	}

	text := entry.Text
	if text == "" {
		switch cat {
		case stem.CategoryName, stem.CategoryDeveloper:
			text = stem.LabelText(slug)
		default:
			if !known {
				return cache.Entry{}, errs.CacheConsistency(id, "no recorded text to regenerate from")
			}
			return cache.Entry{}, errs.CacheConsistency(id, "entry has no recorded text")
		}
	}

	s.index.Invalidate(id)
	return s.ensure(ctx, id, cat, text)
}

// GenerateBatch ensures every identifier in ids, synthesizing missing
// ones with bounded parallelism. Failures are collected per identifier;
// one bad stem never aborts the batch.
func (s *StemsService) GenerateBatch(ctx context.Context, ids map[string]string) (built []cache.Entry, failed map[string]error, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentBuilds)

	type outcome struct {
		id    string
		entry cache.Entry
		err   error
	}
	results := make(chan outcome, len(ids))

	for id, text := range ids {
		id, text := id, text
		g.Go(func() error {
			var e cache.Entry
			var buildErr error
			if ms, ok := stem.SilenceDuration(id); ok {
				e, buildErr = s.EnsureSilence(ctx, ms)
			} else {
				cat, _, parsed := stem.ParseID(id)
				if !parsed {
					buildErr = errs.Validation("identifier", "cannot parse %q", id)
				} else {
					e, buildErr = s.ensure(ctx, id, cat, text)
				}
			}
			results <- outcome{id: id, entry: e, err: buildErr}
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}
	close(results)

	failed = map[string]error{}
	for res := range results {
		if res.err != nil {
			failed[res.id] = res.err
			continue
		}
		built = append(built, res.entry)
	}
	return built, failed, nil
}

// ensure is the single-fragment build path behind the singleflight group.
func (s *StemsService) ensure(ctx context.Context, id string, cat stem.Category, text string) (cache.Entry, error) {
	return s.index.Build(ctx, id, func(ctx context.Context) (cache.Entry, error) {
		started := time.Now()
		raw, err := s.synth.Synthesize(ctx, text, s.cfg.VoiceID)
		if err != nil {
			return cache.Entry{}, fmt.Errorf("synthesize %q: %w", id, err)
		}

		report, err := audio.Validate(raw, s.cfg.Contract())
		if err != nil {
			return cache.Entry{}, fmt.Errorf("synthesized audio for %q rejected: %w", id, err)
		}

		s.log.Info("stem synthesized",
			zap.String("id", id),
			zap.Float64("duration_ms", report.DurationMS),
			zap.Duration("took", time.Since(started)))

		return s.register(ctx, id, cat, text, raw, report)
	})
}

// register writes the validated bytes to disk, mirrors them to the remote
// store when configured, and returns the entry for the index.
func (s *StemsService) register(ctx context.Context, id string, cat stem.Category, text string, raw []byte, report *audio.Report) (cache.Entry, error) {
	path := s.cfg.StemPath(id)
	if err := fsutil.WriteFileAtomic(path, raw); err != nil {
		return cache.Entry{}, fmt.Errorf("persist %q: %w", id, err)
	}

	remoteKey := ""
	if s.store != nil {
		remoteKey = stem.RemoteKey(id)
		if err := s.store.Put(ctx, remoteKey, raw, "audio/wav"); err != nil {
			// Local copy is authoritative. The key stays recorded so the
			// next audit classifies the gap as local_only and repair
			// uploads it.
			s.log.Warn("remote mirror failed",
				zap.String("id", id), zap.String("key", remoteKey), zap.Error(err))
		}
	}

	return cache.Entry{
		ID:         id,
		Category:   cat,
		Text:       text,
		Path:       path,
		RemoteKey:  remoteKey,
		SampleRate: report.SampleRate,
		BitDepth:   report.BitDepth,
		Channels:   report.Channels,
		DurationMS: report.DurationMS,
		Checksum:   report.Checksum,
		Signature:  s.index.Signature(),
	}, nil
}

// ReadFragment loads a registered fragment's bytes from disk, verifying
// the stored checksum before handing them to the merge engine.
func (s *StemsService) ReadFragment(ctx context.Context, entry cache.Entry) ([]byte, error) {
	raw, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, errs.CacheConsistency(entry.ID, fmt.Sprintf("local file unreadable: %v", err))
	}
	if sum := audio.Checksum(raw); sum != entry.Checksum {
		return nil, errs.CacheConsistency(entry.ID,
			fmt.Sprintf("local checksum %s does not match index %s", short(sum), short(entry.Checksum)))
	}
	return raw, nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
