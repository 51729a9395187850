// Package busbridge exposes the synthesis service on the NATS bus so
// other nodes can request speech without going through HTTP. Requests
// arrive on tts.request; audio streams back as ordered PCM chunks on
// tts.audio with a terminal status on tts.done.
package busbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cantorlabs/cantor/internal/bus"
	"github.com/cantorlabs/cantor/internal/protocol"
	"github.com/cantorlabs/cantor/internal/synthesis"
	"github.com/cantorlabs/cantor/internal/wavio"
)

// chunkBytes is the PCM payload size per bus message, small enough that
// playback can start before synthesis of a long text is published.
const chunkBytes = 32 * 1024

const requestTimeout = 45 * time.Second

type Bridge struct {
	bus    *bus.Client
	synth  *synthesis.Service
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func New(parent context.Context, busClient *bus.Client, synth *synthesis.Service, log *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(parent)
	return &Bridge{
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "bus-bridge")),
	}
}

func (b *Bridge) Start() error {
	sub, err := b.bus.Conn().Subscribe(protocol.SubjectTTSRequest, b.handleRequest)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *Bridge) Close() {
	b.cancel()
	if b.sub != nil {
		_ = b.sub.Drain()
	}
	b.wg.Wait()
}

func (b *Bridge) Healthy() bool { return b.sub != nil }

func (b *Bridge) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
		defer cancel()

		wav, err := b.synth.Synthesize(ctx, synthesis.Request{
			Text:     req.Text,
			Voice:    req.Voice,
			Speaker:  req.Speaker,
			Language: req.Language,
			SSML:     req.SSML,
		})
		if err != nil {
			b.logger.Warn("tts synthesis error",
				slog.String("request_id", req.RequestID), slogError(err))
			b.publishStatus(req, err)
			return
		}

		pcm, format, err := wavio.Decode(wav)
		if err != nil {
			b.logger.Warn("tts audio decode error",
				slog.String("request_id", req.RequestID), slogError(err))
			b.publishStatus(req, err)
			return
		}

		sequence := 0
		for offset := 0; ; offset += chunkBytes {
			end := offset + chunkBytes
			final := end >= len(pcm)
			if final {
				end = len(pcm)
			}
			b.publishChunk(req, protocol.AudioChunk{
				RequestID:  req.RequestID,
				Target:     req.Target,
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
				Sequence:   sequence,
				PCM:        pcm[offset:end],
				Final:      final,
			})
			sequence++
			if final {
				break
			}
		}
		b.publishStatus(req, nil)
	}()
}

func (b *Bridge) publishChunk(req protocol.TTSRequest, chunk protocol.AudioChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		b.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := b.bus.Conn().Publish(protocol.SubjectTTSAudio, data); err != nil {
		b.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (b *Bridge) publishStatus(req protocol.TTSRequest, synthErr error) {
	status := protocol.TTSStatus{
		RequestID: req.RequestID,
		Target:    req.Target,
		Completed: synthErr == nil,
		Timestamp: time.Now().UTC(),
	}
	if synthErr != nil {
		status.Error = synthErr.Error()
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = b.bus.Conn().Publish(protocol.SubjectTTSDone, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
