package voice

import (
	"encoding/json"
	"strings"
)

// unitScanner turns an accumulating reply stream into speakable units. A
// unit ends at a sentence boundary past the minimum length, or at a
// whitespace cut once the length cap is exceeded. Text is consumed exactly
// once and in order; the unspoken suffix stays buffered until the next Push
// or Finalize.
type unitScanner struct {
	buffer         string
	emittedAnyUnit bool
}

const (
	unitFirstChunkMin = 24
	unitNextChunkMin  = 42
	unitCutWindow     = 44
)

func newUnitScanner() *unitScanner {
	return &unitScanner{}
}

func (s *unitScanner) Push(delta string) []string {
	if strings.TrimSpace(delta) == "" {
		return nil
	}
	s.buffer += delta
	return s.flush(false)
}

func (s *unitScanner) Finalize() []string {
	return s.flush(true)
}

func (s *unitScanner) Reset() {
	s.buffer = ""
	s.emittedAnyUnit = false
}

func (s *unitScanner) flush(force bool) []string {
	var out []string
	for {
		minChars := unitNextChunkMin
		if !s.emittedAnyUnit {
			minChars = unitFirstChunkMin
		}
		unit, rest, ok := nextSpeakableUnit(s.buffer, minChars, force)
		if !ok {
			break
		}
		s.buffer = rest
		unit = normalizeUnit(unit)
		if unit == "" {
			continue
		}
		s.emittedAnyUnit = true
		out = append(out, unit)
	}
	return out
}

func nextSpeakableUnit(input string, minChars int, force bool) (unit, rest string, ok bool) {
	if input == "" {
		return "", "", false
	}
	if force {
		return input, "", true
	}
	if len(input) < minChars {
		return "", input, false
	}

	if idx := sentenceBoundary(input, minChars); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}

	cut := whitespaceCut(input, minChars, unitCutWindow)
	if cut <= 0 {
		return "", input, false
	}
	return input[:cut], input[cut:], true
}

func sentenceBoundary(input string, minChars int) int {
	for i := minChars - 1; i < len(input); i++ {
		switch input[i] {
		case '!', '?', ';', ':', '\n':
			return i
		case '.':
			if periodEndsSentence(input, i) {
				return i
			}
		}
	}
	return -1
}

// periodEndsSentence rejects periods inside decimals, domain-style tokens,
// and after abbreviation-like words that would produce a false sentence
// break mid-unit.
func periodEndsSentence(input string, i int) bool {
	if i+1 < len(input) {
		next := input[i+1]
		if next != ' ' && next != '\t' && next != '\n' && next != '\r' {
			return false
		}
	}
	if i > 0 && isASCIIDigit(input[i-1]) && i+1 < len(input) && isASCIIDigit(input[i+1]) {
		return false
	}

	word := lastWordBefore(input, i)
	if word == "" {
		return false
	}
	if len(word) == 1 && word[0] >= 'a' && word[0] <= 'z' {
		// Single-letter initial, as in "J. Smith".
		return false
	}
	if _, abbrev := sentenceAbbreviations[word]; abbrev {
		return false
	}
	return true
}

var sentenceAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {}, "approx": {},
	"dept": {}, "est": {}, "fig": {}, "inc": {}, "ltd": {}, "co": {},
	"e.g": {}, "i.e": {}, "u.s": {}, "u.k": {},
}

func lastWordBefore(input string, i int) string {
	start := i
	for start > 0 {
		c := input[start-1]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		start--
	}
	word := strings.ToLower(input[start:i])
	return strings.TrimLeft(word, "\"'([{")
}

func isASCIIDigit(c byte) bool { return c >= '0' && c <= '9' }

func whitespaceCut(input string, minChars, window int) int {
	if len(input) <= minChars {
		return len(input)
	}
	limit := minChars + window
	if limit > len(input) {
		limit = len(input)
	}
	for i := minChars; i < limit; i++ {
		switch input[i] {
		case ' ', '\t', '\n', '\r':
			return i
		}
	}
	return minChars
}

func normalizeUnit(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(raw), " ")
}

// isStructuredFragment reports whether a streamed chunk looks like leaked
// protocol framing (JSON objects or arrays) rather than display text.
func isStructuredFragment(chunk string) bool {
	s := strings.TrimSpace(chunk)
	if len(s) < 2 {
		return false
	}
	switch s[0] {
	case '{', '[':
	default:
		return false
	}
	if json.Valid([]byte(s)) {
		return true
	}
	if strings.HasPrefix(s, `{"`) || strings.HasPrefix(s, `[{`) || strings.HasPrefix(s, `["`) {
		return true
	}
	return strings.Contains(s, `":`) || strings.Contains(s, `",`)
}
