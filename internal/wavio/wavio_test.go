package wavio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func pcmFromSamples(samples ...int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pcm := pcmFromSamples(0, 1000, -1000, 32767, -32768)
	format := Format{SampleRate: 22050, SampleWidth: 2, Channels: 1}

	wavBytes, err := Encode(pcm, format)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(wavBytes, []byte("RIFF")) {
		t.Fatal("missing RIFF header")
	}

	decoded, decodedFormat, err := Decode(wavBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decodedFormat != format {
		t.Fatalf("format changed: %+v != %+v", decodedFormat, format)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Fatal("samples changed in round trip")
	}
}

func TestEncodeRejectsUnalignedPCM(t *testing.T) {
	if _, err := Encode([]byte{1, 2, 3}, DefaultFormat); err == nil {
		t.Fatal("expected error for odd-length pcm")
	}
}

func TestBuilderConcatenates(t *testing.T) {
	var b Builder
	format := Format{SampleRate: 22050, SampleWidth: 2, Channels: 1}

	if err := b.Append(pcmFromSamples(1, 2), format); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append(pcmFromSamples(3), format); err != nil {
		t.Fatalf("Append: %v", err)
	}

	wavBytes, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	pcm, _, err := Decode(wavBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(pcm, pcmFromSamples(1, 2, 3)) {
		t.Fatalf("unexpected pcm %v", pcm)
	}
}

func TestBuilderRejectsFormatChange(t *testing.T) {
	var b Builder
	if err := b.Append(pcmFromSamples(1), Format{SampleRate: 22050, SampleWidth: 2, Channels: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append(pcmFromSamples(2), Format{SampleRate: 16000, SampleWidth: 2, Channels: 1}); err == nil {
		t.Fatal("expected error on mid-stream format change")
	}
}

func TestEmptyBuilderProducesValidHeader(t *testing.T) {
	var b Builder
	if !b.Empty() {
		t.Fatal("new builder should be empty")
	}
	wavBytes, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	pcm, format, err := Decode(wavBytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 0 {
		t.Fatalf("expected no samples, got %d bytes", len(pcm))
	}
	if format != DefaultFormat {
		t.Fatalf("expected default format, got %+v", format)
	}
}
