// Command cantor synthesizes speech from the command line: text from
// arguments or stdin, WAV to a file or stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cantorlabs/cantor/internal/config"
	"github.com/cantorlabs/cantor/internal/synthesis"
	"github.com/cantorlabs/cantor/internal/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cantor:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		voiceKey    string
		speaker     string
		language    string
		lengthScale float64
		noiseScale  float64
		noiseW      float64
		useSSML     bool
		output      string
		listVoices  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&voiceKey, "voice", "", "Voice key, optionally with #speaker suffix")
	flag.StringVar(&speaker, "speaker", "", "Speaker name or id for multi-speaker voices")
	flag.StringVar(&language, "language", "", "Language override for text processing")
	flag.Float64Var(&lengthScale, "length-scale", 0, "Phoneme duration scale (0 uses the voice default)")
	flag.Float64Var(&noiseScale, "noise-scale", -1, "Generator noise (negative uses the voice default)")
	flag.Float64Var(&noiseW, "noise-w", -1, "Duration noise (negative uses the voice default)")
	flag.BoolVar(&useSSML, "ssml", false, "Interpret input as SSML")
	flag.StringVar(&output, "output", "", "Output WAV path (default stdout)")
	flag.BoolVar(&listVoices, "list-voices", false, "List available voices and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil && configPath != "" {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	voices := voice.NewRegistry(cfg.Voices.Directories, logger)

	if listVoices {
		known, err := voices.List()
		if err != nil {
			return err
		}
		for _, v := range known {
			fmt.Printf("%s\t%s\t%s\n", v.Key, v.Language, strings.Join(v.Speakers, ","))
		}
		return nil
	}

	text := strings.Join(flag.Args(), " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to speak")
	}

	// One local worker, no cache: the CLI is a single-shot pipeline.
	synthCfg := cfg.Synthesis
	synthCfg.Workers = 1
	synthCfg.QueueSize = 1
	synth, err := synthesis.New(synthCfg, voices, nil, logger)
	if err != nil {
		return err
	}
	defer synth.Close()

	req := synthesis.Request{
		Text:        text,
		Voice:       voiceKey,
		Speaker:     speaker,
		Language:    language,
		SSML:        useSSML,
		BypassCache: true,
	}
	if lengthScale > 0 {
		req.LengthScale = &lengthScale
	}
	if noiseScale >= 0 {
		req.NoiseScale = &noiseScale
	}
	if noiseW >= 0 {
		req.NoiseW = &noiseW
	}

	wav, err := synth.Synthesize(context.Background(), req)
	if err != nil {
		return err
	}

	if output == "" || output == "-" {
		_, err = os.Stdout.Write(wav)
		return err
	}
	return os.WriteFile(output, wav, 0o644)
}
