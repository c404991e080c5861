package wavio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	in := &Clip{
		SampleRate: 48000,
		BitDepth:   16,
		Channels:   1,
		Samples:    []int16{0, 100, -100, 32767, -32768},
	}

	out, err := Decode(in.Encode())
	require.NoError(t, err)

	assert.Equal(t, in.SampleRate, out.SampleRate)
	assert.Equal(t, in.BitDepth, out.BitDepth)
	assert.Equal(t, in.Channels, out.Channels)
	assert.Equal(t, in.Samples, out.Samples)
}

func TestDecodeSkipsExtraChunks(t *testing.T) {
	clip := &Clip{SampleRate: 48000, BitDepth: 16, Channels: 1, Samples: []int16{1, 2, 3, 4}}
	raw := clip.Encode()

	// Splice a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(list[4:], 4)
	list = append(list, 'I', 'N', 'F', 'O')

	spliced := append([]byte{}, raw[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, raw[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	out, err := Decode(spliced)
	require.NoError(t, err)
	assert.Equal(t, clip.Samples, out.Samples)
}

func TestDecodeRejects(t *testing.T) {
	valid := (&Clip{SampleRate: 48000, BitDepth: 16, Channels: 1, Samples: []int16{1}}).Encode()

	t.Run("too short", func(t *testing.T) {
		_, err := Decode([]byte("RIFF"))
		assert.Error(t, err)
	})

	t.Run("not riff", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		copy(bad[0:4], "JUNK")
		_, err := Decode(bad)
		assert.Error(t, err)
	})

	t.Run("non pcm", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		binary.LittleEndian.PutUint16(bad[20:22], 3) // IEEE float
		_, err := Decode(bad)
		assert.ErrorContains(t, err, "PCM only")
	})

	t.Run("wrong bit depth", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		binary.LittleEndian.PutUint16(bad[34:36], 24)
		_, err := Decode(bad)
		assert.ErrorContains(t, err, "16-bit only")
	})
}

func TestFramesAndDuration(t *testing.T) {
	c := &Clip{SampleRate: 48000, BitDepth: 16, Channels: 2, Samples: make([]int16, 96000)}
	assert.Equal(t, 48000, c.Frames())
	assert.InDelta(t, 1000.0, c.DurationMS(), 1e-9)
}
