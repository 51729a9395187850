package synthesis

import (
	"testing"

	"github.com/cantorlabs/cantor/internal/config"
)

func TestCacheKeyStable(t *testing.T) {
	cfg := config.Default().Synthesis

	a := Request{Text: "hello"}.CacheKey(cfg)
	b := Request{Text: "hello"}.CacheKey(cfg)
	if a != b {
		t.Fatal("identical requests must share a cache key")
	}

	if a == (Request{Text: "goodbye"}).CacheKey(cfg) {
		t.Fatal("different text must not share a cache key")
	}
	if a == (Request{Text: "hello", Voice: "de_DE/thorsten_low"}).CacheKey(cfg) {
		t.Fatal("different voice must not share a cache key")
	}
	scale := 2.0
	if a == (Request{Text: "hello", LengthScale: &scale}).CacheKey(cfg) {
		t.Fatal("different length scale must not share a cache key")
	}
}

func TestCacheIDOverridesKey(t *testing.T) {
	cfg := config.Default().Synthesis

	a := Request{Text: "completely different", CacheID: "shared"}.CacheKey(cfg)
	b := Request{Text: "texts", CacheID: "shared"}.CacheKey(cfg)
	if a != b {
		t.Fatal("requests with the same cache id must share a key")
	}
}

func TestRequestSettingsDefaults(t *testing.T) {
	cfg := config.Default().Synthesis
	cfg.Voice = "en_US/base_low"
	cfg.NoiseScale = 0.667

	s := Request{}.settings(cfg)
	if s.Voice != "en_US/base_low" {
		t.Fatalf("expected configured voice, got %q", s.Voice)
	}
	if s.NoiseScale != 0.667 {
		t.Fatalf("expected configured noise scale, got %v", s.NoiseScale)
	}

	override := 0.1
	s = Request{Voice: "de_DE/other_low", NoiseScale: &override}.settings(cfg)
	if s.Voice != "de_DE/other_low" {
		t.Fatalf("expected request voice, got %q", s.Voice)
	}
	if s.NoiseScale != 0.1 {
		t.Fatalf("expected request noise scale, got %v", s.NoiseScale)
	}
}

func TestDeterministicPinsNoise(t *testing.T) {
	cfg := config.Default().Synthesis
	cfg.Deterministic = true

	override := 0.9
	s := Request{NoiseScale: &override, NoiseW: &override}.settings(cfg)
	if s.NoiseScale != 0 || s.NoiseW != 0 {
		t.Fatalf("deterministic mode must zero noise, got scale=%v w=%v", s.NoiseScale, s.NoiseW)
	}
}
