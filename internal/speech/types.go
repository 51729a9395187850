package speech

// DefaultVolume is the speaking volume used when none has been set.
const DefaultVolume = 100.0

// DefaultRate is the speaking rate used when none has been set.
const DefaultRate = 1.0

// Token is a unit of input to speak. The set of implementations is fixed:
// Word, Phonemes and SayAs.
type Token interface {
	isToken()
}

// Word is a single word, optionally annotated with a grammatical role.
type Word struct {
	Text string
	Role string
}

// Phonemes is a pre-phonemized word in a given alphabet (e.g. "ipa").
type Phonemes struct {
	Text     string
	Alphabet string
}

// SayAs is text that must be spoken a particular way (e.g. characters,
// digits). Format further qualifies InterpretAs and may be empty.
type SayAs struct {
	Text        string
	InterpretAs string
	Format      string
}

func (Word) isToken()     {}
func (Phonemes) isToken() {}
func (SayAs) isToken()    {}

// Result is produced by Engine.EndUtterance. The set of implementations is
// fixed: AudioResult and MarkResult.
type Result interface {
	isResult()
}

// AudioResult is a chunk of synthesized PCM audio.
type AudioResult struct {
	SampleRate  int
	SampleWidth int
	Channels    int
	Data        []byte
}

// MarkResult reports that a named <mark> was reached in the input.
type MarkResult struct {
	Name string
}

func (AudioResult) isResult() {}
func (MarkResult) isResult()  {}

// Settings is the full set of mutable synthesis parameters. It is a value
// type: batches queued inside the engine carry their own copy, and two
// settings are compatible for merging exactly when they are equal.
type Settings struct {
	Voice        string
	Speaker      string
	Language     string
	TextLanguage string
	LengthScale  float64
	NoiseScale   float64
	NoiseW       float64
	Volume       float64
	Rate         float64
	SampleRate   int
}

// Voice describes a synthesizer voice available to an engine.
type Voice struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Language    string            `json:"language"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Speakers    []string          `json:"speakers,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// MultiSpeaker reports whether the voice model hosts more than one speaker.
func (v Voice) MultiSpeaker() bool {
	return len(v.Speakers) > 1
}

// Engine is the abstract speech capability driven by the SSML interpreter
// and by direct callers. Expected usage:
//
//	BeginUtterance()
//	SpeakText(...)
//	AddBreak(...)
//	SetMark(...)
//	SpeakTokens(...)
//	results := EndUtterance()
//
// Voice, language, volume and rate may change between Begin and End; each
// queued chunk keeps the settings that were current when it was produced.
// An Engine instance is not safe for concurrent use.
type Engine interface {
	Voice() string
	SetVoice(key string)
	Speaker() string
	SetSpeaker(name string)
	Language() string
	SetLanguage(lang string)
	Volume() float64
	SetVolume(v float64)
	Rate() float64
	SetRate(r float64)

	BeginUtterance()
	SpeakText(text, textLanguage string) error
	SpeakTokens(tokens []Token) error
	AddBreak(ms int)
	SetMark(name string)
	EndUtterance() ([]Result, error)

	GetVoices() ([]Voice, error)
}
