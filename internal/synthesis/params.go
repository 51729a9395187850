package synthesis

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/cantorlabs/cantor/internal/config"
	"github.com/cantorlabs/cantor/internal/speech"
)

// Request describes one synthesis job. Zero-valued optional fields fall
// back to the configured defaults; the scale overrides are pointers so an
// explicit zero survives (deterministic synthesis needs noise pinned to 0).
type Request struct {
	Text     string
	Voice    string
	Speaker  string
	Language string

	LengthScale *float64
	NoiseScale  *float64
	NoiseW      *float64

	SSML bool

	// CacheID replaces the derived cache key when set, so callers can
	// address cached audio without re-supplying the full parameter set.
	CacheID     string
	BypassCache bool
}

// settings resolves the request against configured defaults into the
// engine settings the worker applies before speaking.
func (r Request) settings(cfg config.SynthesisConfig) speech.Settings {
	s := speech.Settings{
		Voice:       cfg.Voice,
		Speaker:     cfg.Speaker,
		Language:    cfg.Language,
		LengthScale: cfg.LengthScale,
		NoiseScale:  cfg.NoiseScale,
		NoiseW:      cfg.NoiseW,
		Volume:      speech.DefaultVolume,
		Rate:        speech.DefaultRate,
		SampleRate:  cfg.SampleRate,
	}
	if r.Voice != "" {
		s.Voice = r.Voice
	}
	if r.Speaker != "" {
		s.Speaker = r.Speaker
	}
	if r.Language != "" {
		s.Language = r.Language
	}
	if r.LengthScale != nil {
		s.LengthScale = *r.LengthScale
	}
	if r.NoiseScale != nil {
		s.NoiseScale = *r.NoiseScale
	}
	if r.NoiseW != nil {
		s.NoiseW = *r.NoiseW
	}
	if cfg.Deterministic {
		s.NoiseScale = 0
		s.NoiseW = 0
	}
	return s
}

// CacheKey derives the content address for the request: identical text
// and synthesis parameters hash to the same audio.
func (r Request) CacheKey(cfg config.SynthesisConfig) string {
	if r.CacheID != "" {
		sum := md5.Sum([]byte(r.CacheID))
		return hex.EncodeToString(sum[:])
	}
	s := r.settings(cfg)
	sum := md5.Sum(fmt.Appendf(nil, "%q|%s|%s|%s|%v|%v|%v|%v|%d",
		r.Text, s.Voice, s.Speaker, s.Language,
		s.LengthScale, s.NoiseScale, s.NoiseW, r.SSML, s.SampleRate))
	return hex.EncodeToString(sum[:])
}
