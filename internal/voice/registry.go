package voice

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cantorlabs/cantor/internal/speech"
)

// Registry discovers voices on disk and hands out loaded instances.
// Loading is guarded by a mutex so each model handle is created at most
// once; after insertion, entries are immutable and may be read from any
// worker. Model handles are shared between voices that resolve to the
// same directory.
type Registry struct {
	dirs []string
	log  *slog.Logger

	mu     sync.Mutex
	loaded map[string]*Voice
	models map[string]AcousticModel
}

func NewRegistry(dirs []string, log *slog.Logger) *Registry {
	r := &Registry{
		dirs:   dirs,
		log:    log.With(slog.String("component", "voice-registry")),
		loaded: make(map[string]*Voice),
		models: make(map[string]AcousticModel),
	}
	r.initMetrics()
	return r
}

// List scans the configured directories for voices without loading them.
// Layout: <dir>/<language>/<name>/config.json.
func (r *Registry) List() ([]speech.Voice, error) {
	var voices []speech.Voice
	for _, dir := range r.dirs {
		langDirs, err := os.ReadDir(dir)
		if err != nil {
			r.log.Debug("skipping voices directory", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		for _, langEntry := range langDirs {
			if !langEntry.IsDir() || langEntry.Name()[0] == '.' {
				continue
			}
			lang := langEntry.Name()
			voiceDirs, err := os.ReadDir(filepath.Join(dir, lang))
			if err != nil {
				continue
			}
			for _, voiceEntry := range voiceDirs {
				if !voiceEntry.IsDir() || voiceEntry.Name()[0] == '.' {
					continue
				}
				voiceDir := filepath.Join(dir, lang, voiceEntry.Name())
				if _, err := os.Stat(filepath.Join(voiceDir, "config.json")); err != nil {
					continue
				}
				voices = append(voices, describeVoice(voiceDir, lang, voiceEntry.Name()))
			}
		}
	}
	return voices, nil
}

func describeVoice(dir, lang, name string) speech.Voice {
	info := speech.Voice{
		Key:      lang + "/" + name,
		Name:     name,
		Language: lang,
		Location: dir,
		Speakers: readLines(filepath.Join(dir, "speakers.txt")),
		Aliases:  readLines(filepath.Join(dir, "ALIASES")),
	}
	if cfg, err := loadConfig(dir); err == nil {
		info.Properties = map[string]string{
			"length_scale": strconv.FormatFloat(cfg.Inference.LengthScale, 'f', -1, 64),
			"noise_scale":  strconv.FormatFloat(cfg.Inference.NoiseScale, 'f', -1, 64),
			"noise_w":      strconv.FormatFloat(cfg.Inference.NoiseW, 'f', -1, 64),
			"sample_rate":  strconv.Itoa(cfg.Audio.SampleRate),
		}
	}
	return info
}

// Voice returns a loaded voice by key or alias, loading it on first use.
func (r *Registry) Voice(key string) (*Voice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.loaded[key]; ok {
		return v, nil
	}

	available, err := r.List()
	if err != nil {
		return nil, err
	}

	var match *speech.Voice
	for i := range available {
		if available[i].Key == key {
			match = &available[i]
			break
		}
		for _, alias := range available[i].Aliases {
			if alias == key {
				match = &available[i]
				break
			}
		}
		if match != nil {
			break
		}
	}
	if match == nil {
		return nil, &NotFoundError{Key: key}
	}

	if v, ok := r.loaded[match.Key]; ok {
		// Alias of an already loaded voice.
		r.loaded[key] = v
		return v, nil
	}

	v, err := r.load(*match)
	if err != nil {
		return nil, err
	}
	r.loaded[key] = v
	r.loaded[match.Key] = v
	r.log.Info("loaded voice", slog.String("key", match.Key), slog.String("dir", match.Location))
	return v, nil
}

// Preload loads the given voices ahead of the first request.
func (r *Registry) Preload(keys []string) error {
	for _, key := range keys {
		if _, err := r.Voice(key); err != nil {
			return err
		}
	}
	return nil
}

// load builds a Voice from its directory. Caller holds r.mu.
func (r *Registry) load(info speech.Voice) (*Voice, error) {
	cfg, err := loadConfig(info.Location)
	if err != nil {
		return nil, fmt.Errorf("load voice %s: %w", info.Key, err)
	}

	var phonemizer Phonemizer
	switch cfg.Phonemizer {
	case "", "grapheme":
		phonemizer = GraphemePhonemizer{}
	case "exec":
		phonemizer, err = NewExecPhonemizer(cfg.PhonemizerCommand)
		if err != nil {
			return nil, fmt.Errorf("load voice %s: %w", info.Key, err)
		}
	default:
		return nil, fmt.Errorf("load voice %s: unknown phonemizer %q", info.Key, cfg.Phonemizer)
	}

	model, err := r.modelFor(info.Location, cfg)
	if err != nil {
		return nil, fmt.Errorf("load voice %s: %w", info.Key, err)
	}

	return &Voice{Info: info, Config: cfg, Phonemizer: phonemizer, Model: model}, nil
}

// modelFor returns the shared model handle for a voice directory, creating
// it on first use. Caller holds r.mu.
func (r *Registry) modelFor(location string, cfg ModelConfig) (AcousticModel, error) {
	resolved, err := filepath.Abs(location)
	if err != nil {
		resolved = location
	}
	if model, ok := r.models[resolved]; ok {
		return model, nil
	}

	var model AcousticModel
	if cfg.ModelCommand != "" {
		model, err = NewExecModel(cfg.ModelCommand, cfg.Audio.SampleRate)
		if err != nil {
			return nil, err
		}
	} else {
		model = NewSilenceModel(cfg.Audio.SampleRate)
	}
	r.models[resolved] = model
	return model, nil
}

func readLines(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
