// Package synthesis runs text-to-speech jobs on a fixed pool of workers,
// each owning one engine, with a bounded queue providing backpressure and
// a content-addressed audio cache in front of inference.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cantorlabs/cantor/internal/config"
	"github.com/cantorlabs/cantor/internal/speech"
	"github.com/cantorlabs/cantor/internal/ssml"
	"github.com/cantorlabs/cantor/internal/tts"
	"github.com/cantorlabs/cantor/internal/wavio"
)

// ErrServiceClosed is returned for requests submitted after shutdown
// began, including queued requests discarded during drain.
var ErrServiceClosed = errors.New("synthesis: service closed")

type jobResult struct {
	wav []byte
	err error
}

type job struct {
	req    Request
	result chan jobResult
}

// Service owns the worker pool and the cache. Submissions block once the
// queue is full; that blocking is the backpressure contract, so callers
// pass a context to bound their wait.
type Service struct {
	cfg    config.SynthesisConfig
	voices tts.VoiceProvider
	cache  *Cache
	log    *slog.Logger

	queue chan *job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	requests  metric.Int64Counter
	failures  metric.Int64Counter
	cacheHits metric.Int64Counter
	duration  metric.Float64Histogram
}

func New(cfg config.SynthesisConfig, voices tts.VoiceProvider, cache *Cache, log *slog.Logger) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		voices: voices,
		cache:  cache,
		log:    log.With(slog.String("component", "synthesis")),
		queue:  make(chan *job, cfg.QueueSize),
	}

	meter := otel.Meter("github.com/cantorlabs/cantor/synthesis")
	var err error
	if s.requests, err = meter.Int64Counter("cantor.synthesis.requests",
		metric.WithDescription("Synthesis requests accepted")); err != nil {
		return nil, err
	}
	if s.failures, err = meter.Int64Counter("cantor.synthesis.failures",
		metric.WithDescription("Synthesis requests that returned an error")); err != nil {
		return nil, err
	}
	if s.cacheHits, err = meter.Int64Counter("cantor.cache.hits",
		metric.WithDescription("Requests served from the audio cache")); err != nil {
		return nil, err
	}
	if s.duration, err = meter.Float64Histogram("cantor.synthesis.seconds",
		metric.WithDescription("Wall time per synthesis job")); err != nil {
		return nil, err
	}

	defaults := Request{}.settings(cfg)
	for i := 0; i < cfg.Workers; i++ {
		engine := tts.New(defaults, voices, log)
		s.wg.Add(1)
		go s.worker(engine)
	}

	s.log.Info("synthesis pool started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.String("default_voice", cfg.Voice))
	return s, nil
}

// Synthesize runs one request to a finished WAV file. It blocks while
// the queue is full and until a worker finishes the job, honoring ctx
// at both waits.
func (s *Service) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	key := req.CacheKey(s.cfg)
	if !req.BypassCache {
		if wav, ok := s.cache.Get(ctx, key); ok {
			s.cacheHits.Add(ctx, 1)
			return wav, nil
		}
	}

	j := &job{req: req, result: make(chan jobResult, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrServiceClosed
	}
	select {
	case s.queue <- j:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}
	s.requests.Add(ctx, 1)

	select {
	case res := <-j.result:
		if res.err != nil {
			s.failures.Add(ctx, 1)
			return nil, res.err
		}
		if !req.BypassCache {
			if err := s.cache.Put(ctx, key, res.wav); err != nil {
				s.log.Warn("cache store failed", slog.String("error", err.Error()))
			}
		}
		return res.wav, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work, discards everything still queued and waits
// for in-flight jobs to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("synthesis pool stopped")
}

func (s *Service) worker(engine *tts.Engine) {
	defer s.wg.Done()
	for j := range s.queue {
		s.mu.RLock()
		discard := s.closed
		s.mu.RUnlock()
		if discard {
			j.result <- jobResult{err: ErrServiceClosed}
			continue
		}

		start := time.Now()
		wav, err := s.process(engine, j.req)
		s.duration.Record(context.Background(), time.Since(start).Seconds())
		j.result <- jobResult{wav: wav, err: err}
	}
}

// process runs one job on the worker's engine. Whatever the job did to
// the engine state, undrained batches are dropped and the configured
// defaults are restored before the next job runs.
func (s *Service) process(engine *tts.Engine, req Request) ([]byte, error) {
	defaults := engine.Settings()
	defer func() {
		engine.Reset()
		engine.ApplySettings(defaults)
	}()

	applied := req.settings(s.cfg)
	engine.ApplySettings(applied)
	engine.SetVoice(applied.Voice)
	if applied.Speaker != "" {
		engine.SetSpeaker(applied.Speaker)
	}

	var results []speech.Result
	var err error
	if req.SSML {
		results, err = ssml.NewSpeaker(engine).Speak(req.Text)
	} else {
		engine.BeginUtterance()
		if serr := engine.SpeakText(req.Text, ""); serr != nil {
			err = serr
		} else {
			results, err = engine.EndUtterance()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var b wavio.Builder
	for _, res := range results {
		audio, ok := res.(speech.AudioResult)
		if !ok {
			continue
		}
		format := wavio.Format{
			SampleRate:  audio.SampleRate,
			SampleWidth: audio.SampleWidth,
			Channels:    audio.Channels,
		}
		if err := b.Append(audio.Data, format); err != nil {
			return nil, err
		}
	}
	return b.Bytes()
}
