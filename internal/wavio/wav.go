// Package wavio reads and writes 16-bit PCM WAV files without any
// resampling or format conversion. Only uncompressed PCM is supported.
package wavio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Clip is a decoded mono-or-multichannel PCM waveform held as raw
// interleaved 16-bit samples.
type Clip struct {
	SampleRate int
	BitDepth   int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// DurationMS returns the clip duration in milliseconds.
func (c *Clip) DurationMS() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate) * 1000.0
}

// Decode parses a WAV byte stream. It walks the RIFF chunk list so files
// carrying extra chunks (LIST, fact) still decode.
func Decode(raw []byte) (*Clip, error) {
	if len(raw) < 12 {
		return nil, fmt.Errorf("wav: file too short (%d bytes)", len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: missing RIFF/WAVE header")
	}

	var (
		haveFmt    bool
		audioFmt   uint16
		channels   uint16
		sampleRate uint32
		bitDepth   uint16
		data       []byte
	)

	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := raw[pos+8:]
		if chunkLen > len(body) {
			// Tolerate a data chunk whose declared size overruns the file;
			// anything else is corruption.
			if chunkID != "data" {
				return nil, fmt.Errorf("wav: chunk %q overruns file", chunkID)
			}
			chunkLen = len(body)
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short")
			}
			audioFmt = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitDepth = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			data = body[:chunkLen]
		}
		// Chunks are word-aligned.
		pos += 8 + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("wav: no fmt chunk")
	}
	if data == nil {
		return nil, fmt.Errorf("wav: no data chunk")
	}
	if audioFmt != 1 {
		return nil, fmt.Errorf("wav: unsupported audio format %d (PCM only)", audioFmt)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d (16-bit only)", bitDepth)
	}
	if channels == 0 {
		return nil, fmt.Errorf("wav: zero channel count")
	}
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}

	return &Clip{
		SampleRate: int(sampleRate),
		BitDepth:   int(bitDepth),
		Channels:   int(channels),
		Samples:    samples,
	}, nil
}

// Encode serializes the clip as a canonical 44-byte-header WAV file.
func (c *Clip) Encode() []byte {
	dataSize := len(c.Samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	byteRate := c.SampleRate * c.Channels * 2
	blockAlign := c.Channels * 2

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(c.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(c.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range c.Samples {
		binary.Write(buf, binary.LittleEndian, uint16(s))
	}
	return buf.Bytes()
}
