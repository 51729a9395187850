// Package voice loads synthesizer voices from disk and exposes the two
// capabilities each voice provides: a phonemizer that turns text into
// phoneme sequences and an acoustic model that turns phoneme ids into PCM
// audio.
package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cantorlabs/cantor/internal/speech"
)

// BreakKind classifies the pause following a phoneme chunk.
type BreakKind int

const (
	BreakNone BreakKind = iota
	BreakMinor
	BreakMajor
	BreakUtterance
)

func (b BreakKind) String() string {
	switch b {
	case BreakNone:
		return "none"
	case BreakMinor:
		return "minor"
	case BreakMajor:
		return "major"
	case BreakUtterance:
		return "utterance"
	default:
		return "unknown"
	}
}

// PhonemeChunk is one phonemized span of text. Words holds the phonemes of
// each word in order (outer slice = words).
type PhonemeChunk struct {
	Words [][]string
	Break BreakKind
}

// Phonemizer maps text to phoneme sequences. Implementations are selected
// per voice through the voice config.
type Phonemizer interface {
	TextToPhonemes(text, language string) ([]PhonemeChunk, error)
	WordToPhonemes(word, role, language string) ([]string, error)
	SayAsToPhonemes(text, interpretAs, format, language string) ([][]string, error)
}

// SynthesisParams are the numeric controls passed to an acoustic model.
type SynthesisParams struct {
	SpeakerID   int64
	LengthScale float64
	NoiseScale  float64
	NoiseW      float64
	Rate        float64
}

// AcousticModel maps phoneme ids to raw 16-bit mono PCM at the voice's
// sample rate. Implementations must document whether concurrent calls on
// one handle are safe.
type AcousticModel interface {
	IDsToAudio(ids []int64, params SynthesisParams) ([]byte, error)
}

// NotFoundError is returned when a voice key resolves to nothing.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("voice not found: %s", e.Key)
}

// ModelConfig is the on-disk voice configuration (config.json).
type ModelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Inference struct {
		LengthScale    float64 `json:"length_scale"`
		NoiseScale     float64 `json:"noise_scale"`
		NoiseW         float64 `json:"noise_w"`
		MinorBreakMS   int     `json:"minor_break_ms"`
		MajorBreakMS   int     `json:"major_break_ms"`
		AutoAppendText string  `json:"auto_append_text"`
	} `json:"inference"`
	Phonemizer        string           `json:"phonemizer"`
	PhonemizerCommand string           `json:"phonemizer_command,omitempty"`
	ModelCommand      string           `json:"model_command,omitempty"`
	PhonemeIDMap      map[string]int64 `json:"phoneme_id_map"`
	SpeakerIDMap      map[string]int64 `json:"speaker_id_map,omitempty"`
}

// Voice is a fully loaded synthesizer voice.
type Voice struct {
	Info       speech.Voice
	Config     ModelConfig
	Phonemizer Phonemizer
	Model      AcousticModel
}

const (
	bosPhoneme       = "^"
	eosPhoneme       = "$"
	separatorPhoneme = " "
)

// PhonemesToIDs flattens word phoneme lists into the model's id sequence.
// A word-separator id is inserted between words and begin/end markers are
// added when the voice's id map defines them. Unknown phonemes are
// dropped.
func (v *Voice) PhonemesToIDs(words [][]string) []int64 {
	var ids []int64

	if bos, ok := v.Config.PhonemeIDMap[bosPhoneme]; ok {
		ids = append(ids, bos)
	}
	sep, hasSep := v.Config.PhonemeIDMap[separatorPhoneme]
	for wordIdx, word := range words {
		if hasSep && wordIdx > 0 {
			ids = append(ids, sep)
		}
		for _, phoneme := range word {
			if id, ok := v.Config.PhonemeIDMap[phoneme]; ok {
				ids = append(ids, id)
			}
		}
	}
	if eos, ok := v.Config.PhonemeIDMap[eosPhoneme]; ok {
		ids = append(ids, eos)
	}
	return ids
}

// ResolveSpeaker maps a speaker name or numeric id string to the model's
// speaker id. An empty name selects speaker 0.
func (v *Voice) ResolveSpeaker(name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	if id, ok := v.Config.SpeakerIDMap[name]; ok {
		return id, nil
	}
	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		return id, nil
	}
	return 0, fmt.Errorf("unknown speaker %q for voice %s", name, v.Info.Key)
}

func loadConfig(dir string) (ModelConfig, error) {
	var cfg ModelConfig
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return cfg, fmt.Errorf("read voice config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse voice config: %w", err)
	}
	if cfg.Audio.SampleRate <= 0 {
		return cfg, fmt.Errorf("voice config missing audio.sample_rate")
	}
	return cfg, nil
}
