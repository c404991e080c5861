// Package audio holds the fixed-contract validator, the silence generator
// and the sample-exact merge engine. Everything operates on 16-bit PCM and
// never resamples.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/stem"
	"github.com/hybridaudio/stemforge/internal/wavio"
)

// Report is the result of a successful validation pass.
type Report struct {
	SampleRate     int
	BitDepth       int
	Channels       int
	Frames         int
	DurationMS     float64
	Checksum       string
	RMS            float64
	PeakAmplitude  int
	ClippedSamples int
}

// Validate checks raw WAV bytes against the audio contract, in order:
// container header, encoding, sample rate, channel count, non-zero
// duration. It returns the first failing rule, or a report carrying the
// checksum, RMS and clipping metrics. Every producer of a fragment runs
// its output through here before anything reaches the cache index.
func Validate(raw []byte, contract stem.Contract) (*Report, error) {
	clip, err := wavio.Decode(raw)
	if err != nil {
		return nil, errs.Format("", "invalid wav: %v", err)
	}
	if clip.BitDepth != contract.BitDepth {
		return nil, errs.Format("", "encoding must be pcm_s(%d)le, got %d-bit", contract.BitDepth, clip.BitDepth)
	}
	if clip.SampleRate != contract.SampleRate {
		return nil, errs.Format("", "sample rate mismatch: expected %d, got %d", contract.SampleRate, clip.SampleRate)
	}
	if clip.Channels != contract.Channels {
		return nil, errs.Format("", "channel count mismatch: expected %d, got %d", contract.Channels, clip.Channels)
	}
	if clip.Frames() == 0 {
		return nil, errs.Format("", "duration must be greater than zero")
	}

	sum := sha256.Sum256(raw)

	var (
		acc     float64
		peak    int
		clipped int
	)
	for _, s := range clip.Samples {
		v := int(s)
		if v == math.MaxInt16 || v == math.MinInt16 {
			clipped++
		}
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		acc += float64(s) * float64(s)
	}

	return &Report{
		SampleRate:     clip.SampleRate,
		BitDepth:       clip.BitDepth,
		Channels:       clip.Channels,
		Frames:         clip.Frames(),
		DurationMS:     clip.DurationMS(),
		Checksum:       hex.EncodeToString(sum[:]),
		RMS:            math.Sqrt(acc / float64(len(clip.Samples))),
		PeakAmplitude:  peak,
		ClippedSamples: clipped,
	}, nil
}

// Checksum hashes raw file bytes the same way Validate does.
func Checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SilenceRegion marks a run of near-zero samples.
type SilenceRegion struct {
	StartFrame int
	DurationMS int
}

// DetectSilenceRegions scans a clip for continuous silence of at least
// minDurationMS. Best-effort diagnostic, not a contract check.
func DetectSilenceRegions(clip *wavio.Clip, threshold int16, minDurationMS int) []SilenceRegion {
	var regions []SilenceRegion
	start := -1
	runLen := 0

	flush := func() {
		if start < 0 {
			return
		}
		durMS := int(float64(runLen) / float64(clip.SampleRate) * 1000.0)
		if durMS >= minDurationMS {
			regions = append(regions, SilenceRegion{StartFrame: start, DurationMS: durMS})
		}
		start = -1
		runLen = 0
	}

	for i, s := range clip.Samples {
		abs := int(s)
		if abs < 0 {
			abs = -abs
		}
		if abs <= int(threshold) {
			if start < 0 {
				start = i
			}
			runLen++
		} else {
			flush()
		}
	}
	flush()
	return regions
}
