package voice

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execModel shells out to an external inference process for each call,
// speaking JSON over stdin/stdout with base64-encoded PCM. Every call
// spawns its own process, so concurrent use of one handle is safe.
type execModel struct {
	cmd        []string
	sampleRate int
}

type execModelRequest struct {
	IDs         []int64 `json:"ids"`
	SpeakerID   int64   `json:"speaker_id"`
	LengthScale float64 `json:"length_scale"`
	NoiseScale  float64 `json:"noise_scale"`
	NoiseW      float64 `json:"noise_w"`
	Rate        float64 `json:"rate"`
	SampleRate  int     `json:"sample_rate"`
}

type execModelResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

// NewExecModel builds an AcousticModel from a shell-style command line.
func NewExecModel(command string, sampleRate int) (AcousticModel, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("model command empty")
	}
	return &execModel{cmd: args, sampleRate: sampleRate}, nil
}

func (m *execModel) IDsToAudio(ids []int64, params SynthesisParams) ([]byte, error) {
	payload, err := json.Marshal(execModelRequest{
		IDs:         ids,
		SpeakerID:   params.SpeakerID,
		LengthScale: params.LengthScale,
		NoiseScale:  params.NoiseScale,
		NoiseW:      params.NoiseW,
		Rate:        params.Rate,
		SampleRate:  m.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	command := exec.Command(m.cmd[0], m.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("model command failed: %w: %s", err, stderr.String())
	}

	var resp execModelResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode model pcm: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("model pcm not aligned")
	}
	return pcm, nil
}

// execPhonemizer shells out to an external text-to-phoneme process.
type execPhonemizer struct {
	cmd []string
}

type execPhonemizerRequest struct {
	Text        string `json:"text"`
	Language    string `json:"language"`
	Role        string `json:"role,omitempty"`
	InterpretAs string `json:"interpret_as,omitempty"`
	Format      string `json:"format,omitempty"`
}

type execPhonemizerResponse struct {
	Chunks []struct {
		Words [][]string `json:"words"`
		Break string     `json:"break"`
	} `json:"chunks"`
}

// NewExecPhonemizer builds a Phonemizer from a shell-style command line.
func NewExecPhonemizer(command string) (Phonemizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse phonemizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("phonemizer command empty")
	}
	return &execPhonemizer{cmd: args}, nil
}

func (p *execPhonemizer) run(req execPhonemizerRequest) ([]PhonemeChunk, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	command := exec.Command(p.cmd[0], p.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("phonemizer command failed: %w: %s", err, stderr.String())
	}

	var resp execPhonemizerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode phonemizer response: %w", err)
	}

	chunks := make([]PhonemeChunk, 0, len(resp.Chunks))
	for _, c := range resp.Chunks {
		chunks = append(chunks, PhonemeChunk{Words: c.Words, Break: parseBreakKind(c.Break)})
	}
	return chunks, nil
}

func (p *execPhonemizer) TextToPhonemes(text, language string) ([]PhonemeChunk, error) {
	return p.run(execPhonemizerRequest{Text: text, Language: language})
}

func (p *execPhonemizer) WordToPhonemes(word, role, language string) ([]string, error) {
	chunks, err := p.run(execPhonemizerRequest{Text: word, Language: language, Role: role})
	if err != nil {
		return nil, err
	}
	for _, chunk := range chunks {
		if len(chunk.Words) > 0 {
			return chunk.Words[0], nil
		}
	}
	return nil, nil
}

func (p *execPhonemizer) SayAsToPhonemes(text, interpretAs, format, language string) ([][]string, error) {
	chunks, err := p.run(execPhonemizerRequest{
		Text:        text,
		Language:    language,
		InterpretAs: interpretAs,
		Format:      format,
	})
	if err != nil {
		return nil, err
	}
	var words [][]string
	for _, chunk := range chunks {
		words = append(words, chunk.Words...)
	}
	return words, nil
}

func parseBreakKind(s string) BreakKind {
	switch s {
	case "minor":
		return BreakMinor
	case "major":
		return BreakMajor
	case "utterance":
		return BreakUtterance
	default:
		return BreakNone
	}
}
