package voice

import (
	"strings"
	"unicode"
)

// GraphemePhonemizer is the built-in fallback phonemizer: each word's
// phonemes are its lowercased runes, and sentence punctuation decides
// break kinds. It carries no linguistic rules and exists so voices work
// without an external phonemizer process.
type GraphemePhonemizer struct{}

func (GraphemePhonemizer) TextToPhonemes(text, language string) ([]PhonemeChunk, error) {
	var chunks []PhonemeChunk
	var words [][]string

	flush := func(kind BreakKind) {
		if len(words) == 0 {
			return
		}
		chunks = append(chunks, PhonemeChunk{Words: words, Break: kind})
		words = nil
	}

	for _, field := range strings.Fields(text) {
		word, kind := splitTrailingBreak(field)
		if word != "" {
			words = append(words, graphemes(word))
		}
		if kind != BreakNone {
			flush(kind)
		}
	}
	flush(BreakUtterance)

	return chunks, nil
}

func (p GraphemePhonemizer) WordToPhonemes(word, role, language string) ([]string, error) {
	return graphemes(word), nil
}

func (p GraphemePhonemizer) SayAsToPhonemes(text, interpretAs, format, language string) ([][]string, error) {
	switch interpretAs {
	case "characters", "spell-out", "digits":
		// One "word" per character so each is spoken separately.
		var words [][]string
		for _, r := range strings.ToLower(text) {
			if unicode.IsSpace(r) {
				continue
			}
			words = append(words, []string{string(r)})
		}
		return words, nil
	default:
		chunks, err := p.TextToPhonemes(text, language)
		if err != nil {
			return nil, err
		}
		var words [][]string
		for _, chunk := range chunks {
			words = append(words, chunk.Words...)
		}
		return words, nil
	}
}

func splitTrailingBreak(field string) (string, BreakKind) {
	trimmed := strings.TrimRightFunc(field, unicode.IsPunct)
	if trimmed == field {
		return field, BreakNone
	}
	switch field[len(field)-1] {
	case '.', '!', '?':
		return trimmed, BreakMajor
	case ',', ';', ':':
		return trimmed, BreakMinor
	default:
		return trimmed, BreakNone
	}
}

func graphemes(word string) []string {
	var phonemes []string
	for _, r := range strings.ToLower(word) {
		phonemes = append(phonemes, string(r))
	}
	return phonemes
}
