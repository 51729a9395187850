// Package wavio converts between raw little-endian PCM and the WAV
// container used for cache entries, HTTP responses and CLI output.
package wavio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes uncompressed PCM framing.
type Format struct {
	SampleRate  int
	SampleWidth int
	Channels    int
}

// DefaultFormat is used to finalize a header when synthesis fails before
// any audio was produced, so partial output remains a well-formed file.
var DefaultFormat = Format{SampleRate: 22050, SampleWidth: 2, Channels: 1}

// Encode wraps raw 16-bit little-endian PCM in a WAV container.
func Encode(pcm []byte, format Format) ([]byte, error) {
	if format.SampleWidth != 2 {
		return nil, fmt.Errorf("unsupported sample width: %d bytes", format.SampleWidth)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:   samples,
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, format.SampleRate, 8*format.SampleWidth, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.data, nil
}

// Decode extracts raw PCM and its format from WAV bytes.
func Decode(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("unsupported bit depth: %d", dec.BitDepth)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	format := Format{
		SampleRate:  buf.Format.SampleRate,
		SampleWidth: 2,
		Channels:    buf.Format.NumChannels,
	}
	return pcm, format, nil
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.data) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(pos)
	return pos, nil
}
