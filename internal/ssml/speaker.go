// Package ssml interprets Speech Synthesis Markup Language by walking the
// parsed tag tree and driving a speech.Engine. Nested voice, language and
// prosody scopes are tracked with explicit stacks and restored exactly at
// each element's end tag.
//
// See: https://www.w3.org/TR/speech-synthesis11/
package ssml

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cantorlabs/cantor/internal/speech"
)

// MalformedMarkupError reports input whose tag structure cannot be
// interpreted. It is fatal to the one call that produced it; the engine
// remains usable for subsequent documents.
type MalformedMarkupError struct {
	Detail string
}

func (e *MalformedMarkupError) Error() string {
	return fmt.Sprintf("malformed markup: %s", e.Detail)
}

type parsingState int

const (
	stateDefault parsingState = iota
	stateInSentence
	stateInWord
	stateInSub
	stateInPhoneme
	stateInMetadata
	stateInSayAs
	stateInProsody
)

func (s parsingState) String() string {
	switch s {
	case stateDefault:
		return "default"
	case stateInSentence:
		return "sentence"
	case stateInWord:
		return "word"
	case stateInSub:
		return "sub"
	case stateInPhoneme:
		return "phoneme"
	case stateInMetadata:
		return "metadata"
	case stateInSayAs:
		return "say-as"
	case stateInProsody:
		return "prosody"
	default:
		return "unknown"
	}
}

type prosodyState struct {
	volume float64
	rate   float64
}

var volumeNames = map[string]float64{
	"default": speech.DefaultVolume,
	"x-loud":  speech.DefaultVolume,
	"loud":    speech.DefaultVolume * 0.8,
	"medium":  speech.DefaultVolume * 0.5,
	"soft":    speech.DefaultVolume * 0.3,
	"x-soft":  speech.DefaultVolume * 0.1,
	"silent":  0,
}

var rateNames = map[string]float64{
	"default": speech.DefaultRate,
	"x-fast":  speech.DefaultRate * 3,
	"fast":    speech.DefaultRate * 2,
	"medium":  speech.DefaultRate,
	"slow":    speech.DefaultRate * 0.5,
	"x-slow":  speech.DefaultRate * 0.25,
}

// Speaker walks markup and realizes it through a speech.Engine. A Speaker
// is single-use per document but the underlying engine survives failed
// documents.
type Speaker struct {
	engine speech.Engine

	states       []parsingState
	elements     []*element
	voiceStack   []string
	langStack    []string
	prosodyStack []prosodyState

	interpretAs string
	sayAsFormat string

	defaultVoice   string
	defaultLang    string
	defaultProsody prosodyState

	results []speech.Result
}

func NewSpeaker(engine speech.Engine) *Speaker {
	return &Speaker{engine: engine}
}

// Speak interprets one markup document and returns the results in input
// order.
func (s *Speaker) Speak(markup string) ([]speech.Result, error) {
	root, err := parse(markup)
	if err != nil {
		return nil, err
	}

	s.states = s.states[:0]
	s.elements = s.elements[:0]
	s.voiceStack = s.voiceStack[:0]
	s.langStack = s.langStack[:0]
	s.prosodyStack = s.prosodyStack[:0]
	s.interpretAs = ""
	s.sayAsFormat = ""
	s.results = nil

	s.defaultVoice = s.engine.Voice()
	s.defaultLang = s.engine.Language()
	s.defaultProsody = prosodyState{volume: s.engine.Volume(), rate: s.engine.Rate()}

	if err := s.walk(root); err != nil {
		return s.results, err
	}

	if s.state() == stateInSentence {
		if err := s.endSentence(); err != nil {
			return s.results, err
		}
	}
	if s.state() != stateDefault {
		return s.results, &MalformedMarkupError{Detail: fmt.Sprintf("unclosed %s", s.state())}
	}

	// Drain anything queued outside an explicit sentence.
	drained, err := s.engine.EndUtterance()
	s.results = append(s.results, drained...)
	if err != nil {
		return s.results, err
	}
	return s.results, nil
}

// walk visits an element, its leading text, each child subtree, its end
// tag, then its trailing text. Tags like <phoneme> depend on this order:
// they emit at entry, not at the text visit.
func (s *Speaker) walk(n *element) error {
	if err := s.handleStart(n); err != nil {
		return err
	}
	if strings.TrimSpace(n.text) != "" && s.state() != stateInMetadata {
		if err := s.handleText(n.text); err != nil {
			return err
		}
	}
	for _, child := range n.children {
		if err := s.walk(child); err != nil {
			return err
		}
	}
	if err := s.handleEnd(n); err != nil {
		return err
	}
	if strings.TrimSpace(n.tail) != "" && s.state() != stateInMetadata {
		if err := s.handleText(n.tail); err != nil {
			return err
		}
	}
	return nil
}

func (s *Speaker) handleStart(n *element) error {
	if s.state() == stateInMetadata {
		return nil
	}

	switch n.tag {
	case "s":
		// An implicit sentence opened by bare text ends here.
		if s.state() == stateInSentence {
			if err := s.endSentence(); err != nil {
				return err
			}
		}
		return s.beginSentence()
	case "w", "token":
		s.pushElement(n)
		s.pushState(stateInWord)
	case "sub":
		s.pushElement(n)
		s.pushState(stateInSub)
	case "phoneme":
		if s.state() == stateDefault {
			if err := s.beginSentence(); err != nil {
				return err
			}
		}
		ph, _ := n.attr("ph")
		alphabet, _ := n.attr("alphabet")
		if err := s.engine.SpeakTokens([]speech.Token{speech.Phonemes{Text: ph, Alphabet: alphabet}}); err != nil {
			return err
		}
		s.pushElement(n)
		s.pushState(stateInPhoneme)
	case "break":
		timeAttr, _ := n.attr("time")
		if ms := parseBreakTime(timeAttr); ms > 0 {
			s.engine.AddBreak(ms)
		}
	case "mark":
		name, _ := n.attr("name")
		s.engine.SetMark(name)
	case "voice":
		name, _ := n.attr("name")
		s.voiceStack = append(s.voiceStack, name)
		s.engine.SetVoice(name)
	case "say-as":
		s.interpretAs, _ = n.attr("interpret-as")
		s.sayAsFormat, _ = n.attr("format")
		s.pushState(stateInSayAs)
	case "lang":
		lang, _ := n.attr("lang")
		s.langStack = append(s.langStack, lang)
		s.engine.SetLanguage(lang)
	case "prosody":
		next := s.prosody()
		if volumeAttr, ok := n.attr("volume"); ok {
			next.volume = parseVolume(volumeAttr, next.volume)
		}
		if rateAttr, ok := n.attr("rate"); ok {
			next.rate = parseRate(rateAttr)
		}
		s.prosodyStack = append(s.prosodyStack, next)
		s.engine.SetVolume(next.volume)
		s.engine.SetRate(next.rate)
	case "metadata", "meta":
		s.pushState(stateInMetadata)
	}
	return nil
}

func (s *Speaker) handleEnd(n *element) error {
	if s.state() == stateInMetadata && n.tag != "metadata" && n.tag != "meta" {
		return nil
	}

	switch n.tag {
	case "s":
		return s.endSentence()
	case "w", "token":
		if err := s.expectState(stateInWord); err != nil {
			return err
		}
		s.popState()
		s.popElement()
	case "sub":
		// Normally closed early while handling its text; an empty
		// element never got there.
		if s.state() == stateInSub {
			s.popState()
			s.popElement()
		}
	case "phoneme":
		if err := s.expectState(stateInPhoneme); err != nil {
			return err
		}
		s.popState()
		s.popElement()
	case "voice":
		if len(s.voiceStack) > 0 {
			s.voiceStack = s.voiceStack[:len(s.voiceStack)-1]
		}
		s.engine.SetVoice(s.currentVoice())
	case "say-as":
		if err := s.expectState(stateInSayAs); err != nil {
			return err
		}
		s.interpretAs = ""
		s.sayAsFormat = ""
		s.popState()
	case "lang":
		if len(s.langStack) > 0 {
			s.langStack = s.langStack[:len(s.langStack)-1]
		}
		s.engine.SetLanguage(s.currentLang())
	case "prosody":
		if len(s.prosodyStack) > 0 {
			s.prosodyStack = s.prosodyStack[:len(s.prosodyStack)-1]
		}
		restored := s.prosody()
		s.engine.SetVolume(restored.volume)
		s.engine.SetRate(restored.rate)
	case "metadata", "meta":
		if err := s.expectState(stateInMetadata); err != nil {
			return err
		}
		s.popState()
	case "speak":
		if s.state() == stateInSentence {
			return s.endSentence()
		}
	}
	return nil
}

func (s *Speaker) handleText(text string) error {
	switch s.state() {
	case stateDefault, stateInSentence, stateInWord, stateInSub, stateInPhoneme, stateInSayAs:
	default:
		return &MalformedMarkupError{Detail: fmt.Sprintf("text inside %s", s.state())}
	}

	if s.state() == stateInPhoneme {
		// Phonemes were already emitted at element entry.
		return nil
	}

	if s.state() == stateInSub {
		elem := s.topElement()
		if elem != nil {
			text, _ = elem.attr("alias")
		}
		s.popState()
		s.popElement()
	}

	if s.state() == stateDefault {
		if err := s.beginSentence(); err != nil {
			return err
		}
	}

	switch s.state() {
	case stateInWord:
		role := ""
		if elem := s.topElement(); elem != nil {
			role, _ = elem.attr("role")
		}
		return s.engine.SpeakTokens([]speech.Token{speech.Word{Text: strings.TrimSpace(text), Role: role}})
	case stateInSayAs:
		return s.engine.SpeakTokens([]speech.Token{speech.SayAs{
			Text:        strings.TrimSpace(text),
			InterpretAs: s.interpretAs,
			Format:      s.sayAsFormat,
		}})
	default:
		return s.engine.SpeakText(text, s.currentLang())
	}
}

func (s *Speaker) beginSentence() error {
	if err := s.expectState(stateDefault); err != nil {
		return err
	}
	s.pushState(stateInSentence)
	s.engine.BeginUtterance()
	return nil
}

func (s *Speaker) endSentence() error {
	if err := s.expectState(stateInSentence); err != nil {
		return err
	}
	s.popState()
	drained, err := s.engine.EndUtterance()
	s.results = append(s.results, drained...)
	return err
}

func (s *Speaker) state() parsingState {
	if len(s.states) == 0 {
		return stateDefault
	}
	return s.states[len(s.states)-1]
}

func (s *Speaker) expectState(want parsingState) error {
	if got := s.state(); got != want {
		return &MalformedMarkupError{Detail: fmt.Sprintf("expected %s, in %s", want, got)}
	}
	return nil
}

func (s *Speaker) pushState(state parsingState) {
	s.states = append(s.states, state)
}

func (s *Speaker) popState() {
	if len(s.states) > 0 {
		s.states = s.states[:len(s.states)-1]
	}
}

func (s *Speaker) pushElement(n *element) {
	s.elements = append(s.elements, n)
}

func (s *Speaker) popElement() {
	if len(s.elements) > 0 {
		s.elements = s.elements[:len(s.elements)-1]
	}
}

func (s *Speaker) topElement() *element {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *Speaker) currentVoice() string {
	if len(s.voiceStack) == 0 {
		return s.defaultVoice
	}
	return s.voiceStack[len(s.voiceStack)-1]
}

func (s *Speaker) currentLang() string {
	if len(s.langStack) == 0 {
		return s.defaultLang
	}
	return s.langStack[len(s.langStack)-1]
}

func (s *Speaker) prosody() prosodyState {
	if len(s.prosodyStack) == 0 {
		return s.defaultProsody
	}
	return s.prosodyStack[len(s.prosodyStack)-1]
}

// parseBreakTime converts a <break time> attribute ("500ms" or "1.5s")
// into milliseconds. Anything unparseable is 0.
func parseBreakTime(attr string) int {
	attr = strings.TrimSpace(attr)
	switch {
	case strings.HasSuffix(attr, "ms"):
		if v, err := strconv.Atoi(strings.TrimSuffix(attr, "ms")); err == nil {
			return v
		}
	case strings.HasSuffix(attr, "s"):
		if v, err := strconv.ParseFloat(strings.TrimSuffix(attr, "s"), 64); err == nil {
			return int(v * 1000)
		}
	}
	return 0
}

// parseVolume converts a <prosody volume> attribute into [0, 100]. Named
// levels are absolute; a leading sign makes the value an offset from the
// current volume, and a percent offset scales the current value rather
// than the full range.
func parseVolume(attr string, current float64) float64 {
	volume := current
	attr = strings.ToLower(strings.TrimSpace(attr))

	if named, ok := volumeNames[attr]; ok {
		volume = named
	} else if attr != "" {
		positive := strings.HasPrefix(attr, "+")
		negative := strings.HasPrefix(attr, "-")
		if positive || negative {
			attr = attr[1:]
		}
		percent := strings.HasSuffix(attr, "%")
		if percent {
			attr = strings.TrimSuffix(attr, "%")
		}

		value, err := strconv.ParseFloat(attr, 64)
		if err != nil {
			return current
		}
		switch {
		case percent && positive:
			volume += volume * (value / 100.0)
		case percent && negative:
			volume -= volume * (value / 100.0)
		case percent:
			volume = value
		case positive:
			volume += value
		case negative:
			volume -= value
		default:
			volume = value
		}
	}

	return math.Max(0, math.Min(speech.DefaultVolume, volume))
}

// parseRate converts a <prosody rate> attribute into a speaking rate.
// "50%" means 0.5: percentages are absolute, not offsets. No clamping.
func parseRate(attr string) float64 {
	attr = strings.ToLower(strings.TrimSpace(attr))

	if named, ok := rateNames[attr]; ok {
		return named
	}
	if attr == "" {
		return speech.DefaultRate
	}
	percent := strings.HasSuffix(attr, "%")
	if percent {
		attr = strings.TrimSuffix(attr, "%")
	}
	value, err := strconv.ParseFloat(attr, 64)
	if err != nil {
		return speech.DefaultRate
	}
	if percent {
		return value / 100.0
	}
	return value
}
