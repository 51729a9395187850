package wavio

import "fmt"

// Builder accumulates PCM chunks that share one format into a single WAV
// file. The format is fixed by the first chunk; later chunks must match.
type Builder struct {
	format Format
	set    bool
	pcm    []byte
}

// Append adds a chunk of raw PCM. The first call pins the output format.
func (b *Builder) Append(pcm []byte, format Format) error {
	if !b.set {
		b.format = format
		b.set = true
	} else if format != b.format {
		return fmt.Errorf("audio format changed mid-stream: %+v != %+v", format, b.format)
	}
	b.pcm = append(b.pcm, pcm...)
	return nil
}

// Empty reports whether no audio has been appended yet.
func (b *Builder) Empty() bool { return !b.set }

// Bytes finalizes the WAV container. With no appended audio it produces a
// valid zero-frame file in DefaultFormat so a header can still be emitted
// after a failed synthesis.
func (b *Builder) Bytes() ([]byte, error) {
	format := b.format
	if !b.set {
		format = DefaultFormat
	}
	return Encode(b.pcm, format)
}
