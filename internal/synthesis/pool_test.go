package synthesis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cantorlabs/cantor/internal/config"
	"github.com/cantorlabs/cantor/internal/speech"
	"github.com/cantorlabs/cantor/internal/voice"
	"github.com/cantorlabs/cantor/internal/wavio"
)

type countingModel struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{}
}

func (m *countingModel) IDsToAudio(ids []int64, params voice.SynthesisParams) ([]byte, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	m.calls++
	err := m.err
	m.err = nil
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return make([]byte, len(ids)*2), nil
}

func (m *countingModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubProvider struct {
	v *voice.Voice
}

func (p stubProvider) Voice(key string) (*voice.Voice, error) {
	if key == p.v.Info.Key {
		return p.v, nil
	}
	return nil, &voice.NotFoundError{Key: key}
}

func (p stubProvider) List() ([]speech.Voice, error) {
	return []speech.Voice{p.v.Info}, nil
}

func testProvider(model voice.AcousticModel) stubProvider {
	cfg := voice.ModelConfig{}
	cfg.Audio.SampleRate = 22050
	cfg.Inference.LengthScale = 1.0
	cfg.PhonemeIDMap = map[string]int64{"^": 1, "$": 2, " ": 3}
	for i, r := range "abcdefghijklmnopqrstuvwxyz" {
		cfg.PhonemeIDMap[string(r)] = int64(10 + i)
	}
	return stubProvider{v: &voice.Voice{
		Info:       speech.Voice{Key: "en_US/test_low", Language: "en_US"},
		Config:     cfg,
		Phonemizer: voice.GraphemePhonemizer{},
		Model:      model,
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSynthCfg() config.SynthesisConfig {
	cfg := config.Default().Synthesis
	cfg.Voice = "en_US/test_low"
	cfg.Workers = 1
	cfg.QueueSize = 4
	return cfg
}

func TestSynthesizeProducesWAV(t *testing.T) {
	model := &countingModel{}
	svc, err := New(testSynthCfg(), testProvider(model), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	wav, err := svc.Synthesize(context.Background(), Request{Text: "hello world"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatal("output is not a WAV file")
	}
	pcm, format, err := wavio.Decode(wav)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format.SampleRate != 22050 || format.Channels != 1 {
		t.Fatalf("unexpected format %+v", format)
	}
	if len(pcm) == 0 {
		t.Fatal("expected non-empty audio")
	}
}

func TestSSMLRequest(t *testing.T) {
	model := &countingModel{}
	svc, err := New(testSynthCfg(), testProvider(model), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	wav, err := svc.Synthesize(context.Background(), Request{
		Text: `<speak><s>one</s><s>two</s></speak>`,
		SSML: true,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatal("output is not a WAV file")
	}
	if model.count() != 2 {
		t.Fatalf("expected 2 model invocations for 2 sentences, got %d", model.count())
	}
}

func TestCacheServesRepeatRequests(t *testing.T) {
	model := &countingModel{}
	cacheCfg := config.CacheConfig{Enabled: true, Directory: t.TempDir(), MaxEntries: 8}
	cache, err := OpenCache(context.Background(), cacheCfg, testLogger())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	svc, err := New(testSynthCfg(), testProvider(model), cache, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	req := Request{Text: "hello again"}
	first, err := svc.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	second, err := svc.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}

	if model.count() != 1 {
		t.Fatalf("expected 1 model invocation, got %d", model.count())
	}
	if !bytes.Equal(first, second) {
		t.Fatal("cached audio differs from synthesized audio")
	}
}

func TestBypassCache(t *testing.T) {
	model := &countingModel{}
	cacheCfg := config.CacheConfig{Enabled: true, Directory: t.TempDir(), MaxEntries: 8}
	cache, err := OpenCache(context.Background(), cacheCfg, testLogger())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	svc, err := New(testSynthCfg(), testProvider(model), cache, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	req := Request{Text: "fresh every time", BypassCache: true}
	for i := 0; i < 2; i++ {
		if _, err := svc.Synthesize(context.Background(), req); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if model.count() != 2 {
		t.Fatalf("expected 2 model invocations, got %d", model.count())
	}
}

func TestQueueBackpressure(t *testing.T) {
	model := &countingModel{gate: make(chan struct{})}
	cfg := testSynthCfg()
	cfg.Workers = 1
	cfg.QueueSize = 1
	svc, err := New(cfg, testProvider(model), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	// First request occupies the worker, second fills the queue.
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Synthesize(context.Background(), Request{Text: "occupy"})
		}()
	}

	// Give the goroutines time to claim the worker and the queue slot.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Synthesize(ctx, Request{Text: "blocked"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while queue is full, got %v", err)
	}

	close(model.gate)
	wg.Wait()
	svc.Close()
}

func TestWorkerSurvivesInferenceError(t *testing.T) {
	model := &countingModel{err: errors.New("model exploded")}
	svc, err := New(testSynthCfg(), testProvider(model), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if _, err := svc.Synthesize(context.Background(), Request{Text: "boom"}); err == nil {
		t.Fatal("expected error from failing model")
	}

	wav, err := svc.Synthesize(context.Background(), Request{Text: "recovered"})
	if err != nil {
		t.Fatalf("Synthesize after failure: %v", err)
	}
	if len(wav) == 0 {
		t.Fatal("expected audio after recovery")
	}
}

func TestFailedRequestDoesNotLeakSpeech(t *testing.T) {
	model := &countingModel{}
	svc, err := New(testSynthCfg(), testProvider(model), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	control, err := svc.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("control Synthesize: %v", err)
	}

	// The sentence queues speech before the unknown voice fails it, so
	// the single worker's engine is left holding undrained batches.
	_, err = svc.Synthesize(context.Background(), Request{
		Text: `<speak><s>words queued before the failure <voice name="xx_XX/nope">x</voice></s></speak>`,
		SSML: true,
	})
	var notFound *voice.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	after, err := svc.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize after failure: %v", err)
	}
	if !bytes.Equal(control, after) {
		t.Fatalf("audio after a failed request differs from control: %d vs %d bytes",
			len(after), len(control))
	}
	if model.count() != 2 {
		t.Fatalf("expected 2 model invocations, got %d", model.count())
	}
}

func TestUnknownVoiceFails(t *testing.T) {
	svc, err := New(testSynthCfg(), testProvider(&countingModel{}), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	_, err = svc.Synthesize(context.Background(), Request{Text: "hi", Voice: "xx_XX/nope"})
	var notFound *voice.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCloseRejectsNewRequests(t *testing.T) {
	svc, err := New(testSynthCfg(), testProvider(&countingModel{}), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.Close()

	if _, err := svc.Synthesize(context.Background(), Request{Text: "too late"}); !errors.Is(err, ErrServiceClosed) {
		t.Fatalf("expected ErrServiceClosed, got %v", err)
	}
}
