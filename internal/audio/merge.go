package audio

import (
	"math"

	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/wavio"
)

// Piece is one plan entry handed to the merge engine: a resolved clip plus
// the transition into it from the preceding piece. Gap and crossfade are
// mutually exclusive; the resolver guarantees that, and Merge enforces it.
type Piece struct {
	ID          string
	Clip        *wavio.Clip
	GapMS       float64
	CrossfadeMS float64
}

// Options tune the post-merge integrity scan and tail treatment.
type Options struct {
	// TailFadeMS is a short linear fade applied to the output tail to
	// avoid a hard cut. Zero disables it.
	TailFadeMS int
	// ClipRunLimit is the longest tolerated run of consecutive full-scale
	// samples before the merge is declared clipped.
	ClipRunLimit int
}

// Constituent records where a piece landed in the output.
type Constituent struct {
	ID       string
	OffsetMS float64
}

// Result is the merged waveform plus audit metadata.
type Result struct {
	Clip         *wavio.Clip
	Bytes        []byte
	DurationMS   float64
	Checksum     string
	Constituents []Constituent
}

const defaultClipRunLimit = 4

// Merge concatenates and crossfades the ordered pieces into one waveform.
// All pieces must already share the same sample rate, bit depth and channel
// count; a mismatch is fatal, never a resampling opportunity. Samples are
// mixed in float64 and quantized back to 16-bit only once, after the
// integrity scan passes.
func Merge(pieces []Piece, opts Options) (*Result, error) {
	if len(pieces) == 0 {
		return nil, errs.Validation("plan", "no pieces to merge")
	}
	if opts.ClipRunLimit <= 0 {
		opts.ClipRunLimit = defaultClipRunLimit
	}

	base := pieces[0].Clip
	for _, p := range pieces[1:] {
		c := p.Clip
		if c.SampleRate != base.SampleRate || c.BitDepth != base.BitDepth || c.Channels != base.Channels {
			return nil, errs.Format(p.ID, "format mismatch: %d Hz/%d-bit/%d ch vs %d Hz/%d-bit/%d ch",
				c.SampleRate, c.BitDepth, c.Channels, base.SampleRate, base.BitDepth, base.Channels)
		}
	}

	sr := base.SampleRate
	ch := base.Channels

	// Reject impossible crossfades before any sample is touched.
	for i := 1; i < len(pieces); i++ {
		p := pieces[i]
		if p.GapMS > 0 && p.CrossfadeMS > 0 {
			return nil, errs.Validation("transition", "gap and crossfade both set entering %s", p.ID)
		}
		nxf := framesFor(p.CrossfadeMS, sr)
		if nxf > pieces[i-1].Clip.Frames() || nxf > p.Clip.Frames() {
			return nil, errs.Validation("crossfade",
				"crossfade of %.0f ms entering %s exceeds an adjoining fragment", p.CrossfadeMS, p.ID)
		}
	}

	out := toFloat(pieces[0].Clip.Samples)
	constituents := []Constituent{{ID: pieces[0].ID, OffsetMS: 0}}

	for _, p := range pieces[1:] {
		next := toFloat(p.Clip.Samples)
		nxf := framesFor(p.CrossfadeMS, sr)
		ngap := framesFor(p.GapMS, sr)

		if nxf > 0 {
			offset := len(out)/ch - nxf
			mixCosine(out[len(out)-nxf*ch:], next[:nxf*ch], ch)
			out = append(out, next[nxf*ch:]...)
			constituents = append(constituents, Constituent{ID: p.ID, OffsetMS: framesToMS(offset, sr)})
			continue
		}

		if ngap > 0 {
			out = append(out, make([]float64, ngap*ch)...)
		}
		constituents = append(constituents, Constituent{ID: p.ID, OffsetMS: framesToMS(len(out)/ch, sr)})
		out = append(out, next...)
	}

	if n := framesFor(float64(opts.TailFadeMS), sr); n > 0 && len(out) > 0 {
		if n > len(out)/ch {
			n = len(out) / ch
		}
		tail := out[len(out)-n*ch:]
		for f := 0; f < n; f++ {
			g := 1.0 - float64(f)/float64(n)
			for c := 0; c < ch; c++ {
				tail[f*ch+c] *= g
			}
		}
	}

	if err := scanIntegrity(out, opts.ClipRunLimit); err != nil {
		return nil, err
	}

	merged := &wavio.Clip{
		SampleRate: sr,
		BitDepth:   base.BitDepth,
		Channels:   ch,
		Samples:    quantize(out),
	}
	raw := merged.Encode()

	return &Result{
		Clip:         merged,
		Bytes:        raw,
		DurationMS:   merged.DurationMS(),
		Checksum:     Checksum(raw),
		Constituents: constituents,
	}, nil
}

func framesFor(ms float64, sampleRate int) int {
	if ms <= 0 {
		return 0
	}
	return int(float64(sampleRate) * ms / 1000.0)
}

func framesToMS(frames, sampleRate int) float64 {
	return float64(frames) / float64(sampleRate) * 1000.0
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// mixCosine overlays the head of the next piece onto the tail of the
// accumulated buffer using the cosine fade pair
// fadeOut = (1 + cos t)/2, fadeIn = 1 - fadeOut, t in [0, pi].
func mixCosine(tail, head []float64, channels int) {
	frames := len(tail) / channels
	for f := 0; f < frames; f++ {
		var t float64
		if frames > 1 {
			t = math.Pi * float64(f) / float64(frames-1)
		}
		fadeOut := (1 + math.Cos(t)) / 2
		fadeIn := 1 - fadeOut
		for c := 0; c < channels; c++ {
			i := f*channels + c
			tail[i] = tail[i]*fadeOut + head[i]*fadeIn
		}
	}
}

// fullScale is +32767 mapped into the float domain; anything at or past
// it (or at -1.0) sits on the 16-bit rail.
const fullScale = 32767.0 / 32768.0

func scanIntegrity(buf []float64, clipRunLimit int) error {
	run := 0
	for i, v := range buf {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.MergeIntegrity("invalid sample (NaN/Inf) at index %d", i)
		}
		if v >= fullScale || v <= -1.0 {
			run++
			if run > clipRunLimit {
				return errs.MergeIntegrity("full-scale clipping run of %d samples ending at index %d", run, i)
			}
		} else {
			run = 0
		}
	}
	return nil
}

func quantize(buf []float64) []int16 {
	out := make([]int16, len(buf))
	for i, v := range buf {
		s := math.Round(v * 32767.0)
		if s > 32767 {
			s = 32767
		}
		if s < -32768 {
			s = -32768
		}
		out[i] = int16(s)
	}
	return out
}
