package audio

import (
	"github.com/hybridaudio/stemforge/internal/wavio"
)

// Silence builds a PCM s16le silence clip of exactly durationMS at the
// given rate. Sample count is derived the same way every time, so two
// calls with the same duration produce byte-identical files.
func Silence(durationMS, sampleRate int) *wavio.Clip {
	frames := durationMS * sampleRate / 1000
	return &wavio.Clip{
		SampleRate: sampleRate,
		BitDepth:   16,
		Channels:   1,
		Samples:    make([]int16, frames),
	}
}
