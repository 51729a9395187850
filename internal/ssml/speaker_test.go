package ssml

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cantorlabs/cantor/internal/speech"
)

// traceEngine records every call the interpreter makes, tagged with the
// settings current at call time.
type traceEngine struct {
	voice    string
	speaker  string
	language string
	volume   float64
	rate     float64

	trace   []string
	pending int
}

func newTraceEngine() *traceEngine {
	return &traceEngine{
		voice:    "default_voice",
		language: "en_US",
		volume:   speech.DefaultVolume,
		rate:     speech.DefaultRate,
	}
}

func (e *traceEngine) record(format string, args ...any) {
	e.trace = append(e.trace, fmt.Sprintf(format, args...))
}

func (e *traceEngine) Voice() string            { return e.voice }
func (e *traceEngine) SetVoice(key string)      { e.voice = key; e.record("voice=%s", key) }
func (e *traceEngine) Speaker() string          { return e.speaker }
func (e *traceEngine) SetSpeaker(name string)   { e.speaker = name }
func (e *traceEngine) Language() string         { return e.language }
func (e *traceEngine) SetLanguage(lang string)  { e.language = lang; e.record("lang=%s", lang) }
func (e *traceEngine) Volume() float64          { return e.volume }
func (e *traceEngine) SetVolume(v float64)      { e.volume = v; e.record("volume=%g", v) }
func (e *traceEngine) Rate() float64            { return e.rate }
func (e *traceEngine) SetRate(r float64)        { e.rate = r; e.record("rate=%g", r) }
func (e *traceEngine) BeginUtterance()          { e.record("begin") }
func (e *traceEngine) AddBreak(ms int)          { e.record("break=%d", ms) }
func (e *traceEngine) SetMark(name string)      { e.pending++; e.record("mark=%s", name) }

func (e *traceEngine) SpeakText(text, textLanguage string) error {
	e.pending++
	e.record("text=%q voice=%s vol=%g rate=%g", strings.TrimSpace(text), e.voice, e.volume, e.rate)
	return nil
}

func (e *traceEngine) SpeakTokens(tokens []speech.Token) error {
	e.pending++
	for _, token := range tokens {
		switch t := token.(type) {
		case speech.Word:
			e.record("word=%q", t.Text)
		case speech.Phonemes:
			e.record("phonemes=%q", t.Text)
		case speech.SayAs:
			e.record("sayas=%q as=%s", t.Text, t.InterpretAs)
		}
	}
	return nil
}

func (e *traceEngine) EndUtterance() ([]speech.Result, error) {
	e.record("end")
	var results []speech.Result
	for i := 0; i < e.pending; i++ {
		results = append(results, speech.AudioResult{SampleRate: 22050, SampleWidth: 2, Channels: 1})
	}
	e.pending = 0
	return results, nil
}

func (e *traceEngine) GetVoices() ([]speech.Voice, error) { return nil, nil }

func (e *traceEngine) assertTrace(t *testing.T, want ...string) {
	t.Helper()
	if len(e.trace) != len(want) {
		t.Fatalf("trace mismatch:\n got %q\nwant %q", e.trace, want)
	}
	for i := range want {
		if e.trace[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q\nfull trace: %q", i, e.trace[i], want[i], e.trace)
		}
	}
}

func TestSpeakPlainText(t *testing.T) {
	engine := newTraceEngine()
	results, err := NewSpeaker(engine).Speak("Hello world.")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	engine.assertTrace(t,
		"begin",
		`text="Hello world." voice=default_voice vol=100 rate=1`,
		"end",
		"end",
	)
}

func TestNestedVoiceRestored(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s><voice name="other_voice">Hello</voice> world</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		"voice=other_voice",
		`text="Hello" voice=other_voice vol=100 rate=1`,
		"voice=default_voice",
		`text="world" voice=default_voice vol=100 rate=1`,
		"end",
		"end",
	)
}

func TestProsodyNamedAndOffset(t *testing.T) {
	engine := newTraceEngine()
	engine.volume = 50

	markup := `<speak><s>` +
		`<prosody volume="loud" rate="x-slow">a</prosody>` +
		`<prosody volume="+10%">b</prosody>` +
		`<prosody rate="200%">c</prosody>` +
		`d</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		"volume=80", "rate=0.25",
		`text="a" voice=default_voice vol=80 rate=0.25`,
		"volume=50", "rate=1",
		"volume=55", "rate=1",
		`text="b" voice=default_voice vol=55 rate=1`,
		"volume=50", "rate=1",
		"volume=50", "rate=2",
		`text="c" voice=default_voice vol=50 rate=2`,
		"volume=50", "rate=1",
		`text="d" voice=default_voice vol=50 rate=1`,
		"end",
		"end",
	)
}

func TestNestedProsodyRelativeToEnclosing(t *testing.T) {
	engine := newTraceEngine()

	markup := `<speak><s><prosody volume="soft"><prosody volume="-50%">quiet</prosody></prosody></s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	// soft is 30; -50% of 30 is 15.
	found := false
	for _, entry := range engine.trace {
		if entry == `text="quiet" voice=default_voice vol=15 rate=1` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nested prosody volume 15, trace: %q", engine.trace)
	}
}

func TestBreakAndMark(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s>one<break time="500ms"/><mark name="mid"/>two<break time="1.5s"/></s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		`text="one" voice=default_voice vol=100 rate=1`,
		"break=500",
		"mark=mid",
		`text="two" voice=default_voice vol=100 rate=1`,
		"break=1500",
		"end",
		"end",
	)
}

func TestSubReplacesText(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s><sub alias="World Wide Web">WWW</sub></s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		`text="World Wide Web" voice=default_voice vol=100 rate=1`,
		"end",
		"end",
	)
}

func TestSayAsAndPhonemeTokens(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s>` +
		`<say-as interpret-as="spell-out">abc</say-as>` +
		`<phoneme ph="h @ l oU">hello</phoneme>` +
		`<w role="verb">record</w>` +
		`</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		`sayas="abc" as=spell-out`,
		`phonemes="h @ l oU"`,
		`word="record"`,
		"end",
		"end",
	)
}

func TestMetadataSuppressed(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><metadata>do not speak this</metadata><s>speak this</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	for _, entry := range engine.trace {
		if strings.Contains(entry, "do not speak") {
			t.Fatalf("metadata content leaked into speech: %q", engine.trace)
		}
	}
}

func TestEachSentenceIsOneUtterance(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s>first</s><s>second</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		`text="first" voice=default_voice vol=100 rate=1`,
		"end",
		"begin",
		`text="second" voice=default_voice vol=100 rate=1`,
		"end",
		"end",
	)
}

func TestLangScopes(t *testing.T) {
	engine := newTraceEngine()
	markup := `<speak><s><lang lang="de_DE">hallo</lang> hello</s></speak>`
	if _, err := NewSpeaker(engine).Speak(markup); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	engine.assertTrace(t,
		"begin",
		"lang=de_DE",
		`text="hallo" voice=default_voice vol=100 rate=1`,
		"lang=en_US",
		`text="hello" voice=default_voice vol=100 rate=1`,
		"end",
		"end",
	)
}

func TestMalformedMarkup(t *testing.T) {
	engine := newTraceEngine()
	_, err := NewSpeaker(engine).Speak(`<speak><s>broken</x></speak>`)
	var malformed *MalformedMarkupError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedMarkupError, got %v", err)
	}
}

func TestParseBreakTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"500ms", 500},
		{"1s", 1000},
		{"1.5s", 1500},
		{"0ms", 0},
		{"later", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseBreakTime(tc.in); got != tc.want {
			t.Errorf("parseBreakTime(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseVolume(t *testing.T) {
	cases := []struct {
		in      string
		current float64
		want    float64
	}{
		{"silent", 100, 0},
		{"x-soft", 100, 10},
		{"soft", 100, 30},
		{"medium", 100, 50},
		{"loud", 100, 80},
		{"x-loud", 50, 100},
		{"75", 100, 75},
		{"+10", 50, 60},
		{"-10", 50, 40},
		{"+10%", 50, 55},
		{"-10%", 50, 45},
		{"200", 50, 100},
		{"-200", 50, 0},
		{"garbage", 50, 50},
	}
	for _, tc := range cases {
		if got := parseVolume(tc.in, tc.current); got != tc.want {
			t.Errorf("parseVolume(%q, %g) = %g, want %g", tc.in, tc.current, got, tc.want)
		}
	}
}

func TestParseRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"x-slow", 0.25},
		{"slow", 0.5},
		{"medium", 1.0},
		{"fast", 2.0},
		{"x-fast", 3.0},
		{"50%", 0.5},
		{"200%", 2.0},
		{"1.5", 1.5},
		{"garbage", 1.0},
	}
	for _, tc := range cases {
		if got := parseRate(tc.in); got != tc.want {
			t.Errorf("parseRate(%q) = %g, want %g", tc.in, got, tc.want)
		}
	}
}
