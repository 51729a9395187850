// Package tts implements the speech.Engine capability on top of loaded
// voices: text and tokens are phonemized into settings-tagged batches, and
// EndUtterance merges consecutive compatible batches into as few acoustic
// model invocations as possible.
package tts

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/cantorlabs/cantor/internal/speech"
	"github.com/cantorlabs/cantor/internal/voice"
)

// VoiceProvider hands out loaded voices by key. *voice.Registry satisfies
// this; tests substitute stubs.
type VoiceProvider interface {
	Voice(key string) (*voice.Voice, error)
	List() ([]speech.Voice, error)
}

// batch is a queued, settings-tagged chunk of word phoneme lists. The
// boundary flag forces a flush after this batch even when the next batch
// carries identical settings.
type batch struct {
	settings speech.Settings
	words    [][]string
	boundary bool
}

// pendingItem is one entry of the engine's ordered pending list: either a
// phoneme batch awaiting merge or a ready result passed through at drain.
type pendingItem struct {
	batch  *batch
	result speech.Result
}

// Engine accumulates speech calls between BeginUtterance and EndUtterance.
// It is single-threaded: an instance must not be shared between
// goroutines, and an utterance must be fully drained before the next one
// starts.
type Engine struct {
	settings speech.Settings
	provider VoiceProvider
	log      *slog.Logger
	pending  []pendingItem
}

// New creates an engine with the given default settings. Volume and rate
// fall back to the process defaults when unset.
func New(defaults speech.Settings, provider VoiceProvider, log *slog.Logger) *Engine {
	if defaults.Volume == 0 {
		defaults.Volume = speech.DefaultVolume
	}
	if defaults.Rate == 0 {
		defaults.Rate = speech.DefaultRate
	}
	return &Engine{
		settings: defaults,
		provider: provider,
		log:      log.With(slog.String("component", "tts-engine")),
	}
}

func (e *Engine) Voice() string    { return e.settings.Voice }
func (e *Engine) Speaker() string  { return e.settings.Speaker }
func (e *Engine) Language() string { return e.settings.Language }
func (e *Engine) Volume() float64  { return e.settings.Volume }
func (e *Engine) Rate() float64    { return e.settings.Rate }

// SetVoice changes the current voice. A "voice#speaker" key selects a
// speaker as well; otherwise changing voice clears any previously selected
// speaker.
func (e *Engine) SetVoice(key string) {
	if key == "" {
		return
	}
	if key != e.settings.Voice {
		e.settings.Speaker = ""
	}
	if name, speaker, ok := strings.Cut(key, "#"); ok {
		e.settings.Voice = name
		e.settings.Speaker = speaker
		return
	}
	e.settings.Voice = key
}

func (e *Engine) SetSpeaker(name string)  { e.settings.Speaker = name }
func (e *Engine) SetLanguage(lang string) { e.settings.Language = lang }

func (e *Engine) SetVolume(v float64) {
	e.settings.Volume = math.Max(0, math.Min(100, v))
}

func (e *Engine) SetRate(r float64) {
	if r > 0 {
		e.settings.Rate = r
	}
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() speech.Settings { return e.settings }

// ApplySettings replaces the numeric synthesis controls in one call.
func (e *Engine) ApplySettings(s speech.Settings) { e.settings = s }

// Reset discards everything still queued without running inference. Pool
// workers call it after a failed job so its leftover batches cannot
// surface in the next caller's audio.
func (e *Engine) Reset() { e.pending = nil }

func (e *Engine) BeginUtterance() {}

// SpeakText phonemizes text with the current voice and queues the
// resulting batches. Every chunk break is a batch boundary except an
// utterance break on the final chunk: that one is the plain end of the
// supplied text, so consecutive SpeakText calls under unchanged settings
// merge into one model invocation.
func (e *Engine) SpeakText(text, textLanguage string) error {
	v, err := e.provider.Voice(e.settings.Voice)
	if err != nil {
		return err
	}

	if appendText := v.Config.Inference.AutoAppendText; appendText != "" && !strings.HasSuffix(text, appendText) {
		text += appendText
	}

	language := textLanguage
	if language == "" {
		language = e.settings.TextLanguage
	}
	if language == "" {
		language = e.settings.Language
	}

	chunks, err := v.Phonemizer.TextToPhonemes(text, language)
	if err != nil {
		return fmt.Errorf("phonemize: %w", err)
	}

	settings := e.settings
	settings.TextLanguage = language

	last := -1
	for i := range chunks {
		if len(chunks[i].Words) > 0 {
			last = i
		}
	}

	for i, chunk := range chunks {
		if len(chunk.Words) == 0 {
			continue
		}
		minor := chunk.Break == voice.BreakMinor && v.Config.Inference.MinorBreakMS > 0
		major := chunk.Break == voice.BreakMajor && v.Config.Inference.MajorBreakMS > 0

		boundary := chunk.Break != voice.BreakNone
		if chunk.Break == voice.BreakUtterance && i == last {
			boundary = false
		}

		e.pending = append(e.pending, pendingItem{batch: &batch{
			settings: settings,
			words:    chunk.Words,
			boundary: boundary,
		}})

		if major {
			e.AddBreak(v.Config.Inference.MajorBreakMS)
		} else if minor {
			e.AddBreak(v.Config.Inference.MinorBreakMS)
		}
	}
	return nil
}

// SpeakTokens queues user-supplied tokens as a single non-boundary batch.
func (e *Engine) SpeakTokens(tokens []speech.Token) error {
	v, err := e.provider.Voice(e.settings.Voice)
	if err != nil {
		return err
	}

	language := e.settings.TextLanguage
	if language == "" {
		language = e.settings.Language
	}

	var words [][]string
	for _, token := range tokens {
		switch t := token.(type) {
		case speech.Word:
			phonemes, err := v.Phonemizer.WordToPhonemes(t.Text, t.Role, language)
			if err != nil {
				return fmt.Errorf("phonemize word: %w", err)
			}
			words = append(words, phonemes)
		case speech.Phonemes:
			words = append(words, splitPhonemeString(t.Text))
		case speech.SayAs:
			sayAs, err := v.Phonemizer.SayAsToPhonemes(t.Text, t.InterpretAs, t.Format, language)
			if err != nil {
				return fmt.Errorf("phonemize say-as: %w", err)
			}
			words = append(words, sayAs...)
		}
	}

	if len(words) > 0 {
		e.pending = append(e.pending, pendingItem{batch: &batch{
			settings: e.settings,
			words:    words,
		}})
	}
	return nil
}

// AddBreak queues ms milliseconds of 16-bit mono silence at the engine's
// sample rate.
func (e *Engine) AddBreak(ms int) {
	samples := int(math.Round(float64(ms) / 1000.0 * float64(e.settings.SampleRate)))
	e.pending = append(e.pending, pendingItem{result: speech.AudioResult{
		SampleRate:  e.settings.SampleRate,
		SampleWidth: 2,
		Channels:    1,
		Data:        make([]byte, samples*2),
	}})
}

// SetMark queues a named mark event.
func (e *Engine) SetMark(name string) {
	e.pending = append(e.pending, pendingItem{result: speech.MarkResult{Name: name}})
}

// EndUtterance drains the pending list once. Consecutive batches with
// equal settings merge into one model invocation, performed under the
// first batch's settings of the run; a boundary batch, a settings change
// or a queued terminal result flushes the working buffer. The pending list
// is cleared even when synthesis fails partway; accumulated results are
// returned alongside the error.
func (e *Engine) EndUtterance() ([]speech.Result, error) {
	pending := e.pending
	e.pending = nil

	var results []speech.Result
	var buffer [][]string
	var bufferSettings speech.Settings

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		audio, err := e.synthesize(buffer, bufferSettings)
		buffer = nil
		if err != nil {
			return err
		}
		results = append(results, audio)
		return nil
	}

	for _, item := range pending {
		if item.batch == nil {
			if err := flush(); err != nil {
				return results, err
			}
			results = append(results, item.result)
			continue
		}
		if len(buffer) > 0 && item.batch.settings != bufferSettings {
			if err := flush(); err != nil {
				return results, err
			}
		}
		if len(buffer) == 0 {
			bufferSettings = item.batch.settings
		}
		buffer = append(buffer, item.batch.words...)
		if item.batch.boundary {
			if err := flush(); err != nil {
				return results, err
			}
		}
	}
	if err := flush(); err != nil {
		return results, err
	}
	return results, nil
}

// GetVoices lists the voices available to this engine.
func (e *Engine) GetVoices() ([]speech.Voice, error) {
	return e.provider.List()
}

// synthesize runs one acoustic model invocation over merged word phoneme
// lists.
func (e *Engine) synthesize(words [][]string, settings speech.Settings) (speech.AudioResult, error) {
	v, err := e.provider.Voice(settings.Voice)
	if err != nil {
		return speech.AudioResult{}, err
	}

	speakerID, err := v.ResolveSpeaker(settings.Speaker)
	if err != nil {
		return speech.AudioResult{}, err
	}

	params := voice.SynthesisParams{
		SpeakerID:   speakerID,
		LengthScale: settings.LengthScale,
		NoiseScale:  settings.NoiseScale,
		NoiseW:      settings.NoiseW,
		Rate:        settings.Rate,
	}
	if params.LengthScale <= 0 {
		params.LengthScale = v.Config.Inference.LengthScale
	}

	ids := v.PhonemesToIDs(words)
	e.log.Debug("synthesizing", slog.Int("words", len(words)), slog.Int("ids", len(ids)))

	pcm, err := v.Model.IDsToAudio(ids, params)
	if err != nil {
		return speech.AudioResult{}, fmt.Errorf("inference: %w", err)
	}

	if settings.Volume != speech.DefaultVolume {
		pcm = scaleVolume(pcm, settings.Volume/100.0)
	}

	return speech.AudioResult{
		SampleRate:  v.Config.Audio.SampleRate,
		SampleWidth: 2,
		Channels:    1,
		Data:        pcm,
	}, nil
}

// splitPhonemeString interprets a raw phoneme attribute: space-separated
// phonemes when spaces are present, individual runes otherwise.
func splitPhonemeString(s string) []string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, " ") {
		return strings.Fields(s)
	}
	var phonemes []string
	for _, r := range s {
		phonemes = append(phonemes, string(r))
	}
	return phonemes
}

func scaleVolume(pcm []byte, factor float64) []byte {
	scaled := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		sample = math.Max(-32768, math.Min(32767, sample*factor))
		value := uint16(int16(sample))
		scaled[i] = byte(value)
		scaled[i+1] = byte(value >> 8)
	}
	return scaled
}
