// Package httpd serves the speech HTTP API. The surface follows the
// MaryTTS conventions so existing clients can point at this daemon
// unchanged: GET or POST /api/tts returns a WAV file, /api/voices lists
// what the registry found, /api/healthcheck answers liveness probes.
package httpd

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cantorlabs/cantor/internal/speech"
	"github.com/cantorlabs/cantor/internal/ssml"
	"github.com/cantorlabs/cantor/internal/synthesis"
	"github.com/cantorlabs/cantor/internal/voice"
)

// VoiceLister is the slice of the registry the API needs.
type VoiceLister interface {
	List() ([]speech.Voice, error)
}

type Server struct {
	synth  *synthesis.Service
	voices VoiceLister
	log    *slog.Logger
}

func New(synth *synthesis.Service, voices VoiceLister, log *slog.Logger) *Server {
	return &Server{
		synth:  synth,
		voices: voices,
		log:    log.With(slog.String("component", "httpd")),
	}
}

// Register mounts the API handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/tts", s.handleTTS)
	mux.HandleFunc("/api/voices", s.handleVoices)
	mux.HandleFunc("/api/healthcheck", s.handleHealthcheck)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var text string
	switch r.Method {
	case http.MethodGet:
		text = r.URL.Query().Get("text")
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		text = string(body)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(text) == "" {
		http.Error(w, "no text provided", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	req := synthesis.Request{
		Text:     text,
		Voice:    q.Get("voice"),
		Speaker:  q.Get("speaker"),
		Language: q.Get("language"),
		SSML:     boolParam(q.Get("ssml")),
		CacheID:  q.Get("cacheId"),
	}
	if q.Has("noCache") || q.Get("cache") == "false" {
		req.BypassCache = true
	}
	var err error
	if req.LengthScale, err = floatParam(q.Get("lengthScale")); err != nil {
		http.Error(w, "invalid lengthScale", http.StatusBadRequest)
		return
	}
	if req.NoiseScale, err = floatParam(q.Get("noiseScale")); err != nil {
		http.Error(w, "invalid noiseScale", http.StatusBadRequest)
		return
	}
	if req.NoiseW, err = floatParam(q.Get("noiseW")); err != nil {
		http.Error(w, "invalid noiseW", http.StatusBadRequest)
		return
	}

	wav, err := s.synth.Synthesize(r.Context(), req)
	if err != nil {
		s.log.Warn("synthesis request failed",
			slog.String("voice", req.Voice),
			slog.String("error", err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	_, _ = w.Write(wav)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.voices.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(voices); err != nil {
		s.log.Warn("failed to encode voices", slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusFor(err error) int {
	var notFound *voice.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var malformed *ssml.MalformedMarkupError
	if errors.As(err, &malformed) {
		return http.StatusBadRequest
	}
	if errors.Is(err, synthesis.ErrServiceClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// floatParam parses an optional numeric query parameter; absence means
// "use the server default".
func floatParam(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func boolParam(raw string) bool {
	return raw == "true" || raw == "1"
}
