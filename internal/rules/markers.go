package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Marker is a parsed answer-choice marker.
type Marker struct {
	Ordinal int
	Label   string
}

type glyphRange struct {
	first, last rune
	// inline glyphs split choices even mid-line; the others only count when they lead a line
	// because stems often cite them ("㉠과 ㉡에 들어갈 말은?").
	inline bool
}

// Enclosed-number and enclosed-letter blocks that exams print as choice markers.
var glyphRanges = []glyphRange{
	{'①', '⑳', true},
	{'⑴', '⒇', true},
	{'❶', '❿', true},
	{'➀', '➉', true},
	{'➊', '➓', true},
	{'ⓐ', 'ⓩ', false},
	{'Ⓐ', 'Ⓩ', false},
	{'㉠', '㉭', false},
	{'㉮', '㉻', false},
}

var (
	hangulJamo     = []rune("ㄱㄴㄷㄹㅁㅂㅅㅇㅈㅊㅋㅌㅍㅎ")
	hangulSyllable = []rune("가나다라마바사아자차카타파하")

	asciiMarkerRe = regexp.MustCompile(`^\s*(?:\(\s*([0-9]{1,2}|[A-Za-z]|[ㄱ-ㅎ가-힣])\s*\)|([0-9]{1,2}|[A-Za-z]|[ㄱ-ㅎ가-힣])[.)])\s*`)
)

// ParseMarker reads a choice marker at the start of s and returns it with the remaining text.
func ParseMarker(s string) (Marker, string, bool) {
	if m, rest, ok := parseGlyph(s); ok {
		return m, rest, true
	}
	trimmed := strings.TrimLeft(s, " \t")
	m := asciiMarkerRe.FindStringSubmatchIndex(trimmed)
	if m == nil {
		return Marker{}, s, false
	}
	var token string
	if m[2] >= 0 {
		token = trimmed[m[2]:m[3]]
	} else {
		token = trimmed[m[4]:m[5]]
	}
	ordinal := ordinalOf(token)
	if ordinal == 0 {
		return Marker{}, s, false
	}
	label := strings.TrimSpace(trimmed[:m[1]])
	return Marker{Ordinal: ordinal, Label: label}, strings.TrimSpace(trimmed[m[1]:]), true
}

// NormalizeMarker converts a marker string as the model returned it ("③", "(3)", "c", "3") into
// its ordinal.
func NormalizeMarker(s string) (Marker, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Marker{}, false
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return Marker{Ordinal: n, Label: s}, true
	}
	if m, rest, ok := ParseMarker(s); ok && rest == "" {
		return m, true
	}
	if n := ordinalOf(s); n > 0 {
		return Marker{Ordinal: n, Label: s}, true
	}
	return Marker{}, false
}

// CircledLabel returns the display glyph for an ordinal ("①" for 1).
func CircledLabel(ordinal int) string {
	if ordinal >= 1 && ordinal <= 20 {
		return string(rune('①' + ordinal - 1))
	}
	return fmt.Sprintf("(%d)", ordinal)
}

// IsMarkerLed reports whether a line starts with a choice marker.
func IsMarkerLed(line string) bool {
	_, _, ok := ParseMarker(line)
	return ok
}

// SplitMarkedLines splits text into choices at every enclosed-glyph marker, whether it leads a
// line or sits inline. Text before the first marker is returned as the stem. ASCII markers are
// left alone here because "11." usually numbers the question itself.
func SplitMarkedLines(text string) (stem string, choices []MarkedLine) {
	var stemLines []string
	for _, line := range strings.Split(text, "\n") {
		for _, seg := range splitInlineGlyphs(line) {
			m, rest, ok := parseGlyph(seg)
			switch {
			case ok:
				choices = append(choices, MarkedLine{Marker: m, Text: rest})
			case len(choices) > 0 && strings.TrimSpace(seg) != "":
				last := &choices[len(choices)-1]
				last.Text = strings.TrimSpace(last.Text + " " + strings.TrimSpace(seg))
			case strings.TrimSpace(seg) != "":
				stemLines = append(stemLines, seg)
			}
		}
	}
	return strings.TrimSpace(strings.Join(stemLines, "\n")), choices
}

// MarkedLine is one marker-led segment of free text.
type MarkedLine struct {
	Marker Marker
	Text   string
}

// splitInlineGlyphs breaks "① a ② b" into separate segments. Only enclosed glyphs split inline;
// ASCII markers must start a line.
func splitInlineGlyphs(line string) []string {
	var out []string
	start := 0
	for i, r := range line {
		if i > start && isInlineGlyph(r) {
			out = append(out, line[start:i])
			start = i
		}
	}
	return append(out, line[start:])
}

func parseGlyph(s string) (Marker, string, bool) {
	trimmed := strings.TrimLeft(s, " \t")
	r, size := utf8.DecodeRuneInString(trimmed)
	if r == utf8.RuneError || !isGlyphMarker(r) {
		return Marker{}, s, false
	}
	rest := trimmed[size:]
	for _, g := range glyphRanges {
		if r < g.first || r > g.last {
			continue
		}
		if !g.inline && !separated(rest) {
			return Marker{}, s, false
		}
		return Marker{Ordinal: int(r-g.first) + 1, Label: string(r)}, strings.TrimSpace(rest), true
	}
	return Marker{}, s, false
}

// separated reports whether rest begins with a gap after a marker, so "㉠ 내용" is a marker and
// "㉠과" is prose citing one.
func separated(rest string) bool {
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsSpace(r) || r == '.' || r == ')'
}

func isGlyphMarker(r rune) bool {
	for _, g := range glyphRanges {
		if r >= g.first && r <= g.last {
			return true
		}
	}
	return false
}

func isInlineGlyph(r rune) bool {
	for _, g := range glyphRanges {
		if g.inline && r >= g.first && r <= g.last {
			return true
		}
	}
	return false
}

func ordinalOf(token string) int {
	if n, err := strconv.Atoi(token); err == nil {
		if n > 0 {
			return n
		}
		return 0
	}
	r, size := utf8.DecodeRuneInString(token)
	if size != len(token) {
		return 0
	}
	switch {
	case r >= 'a' && r <= 'z':
		return int(r-'a') + 1
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 1
	}
	for i, h := range hangulJamo {
		if r == h {
			return i + 1
		}
	}
	for i, h := range hangulSyllable {
		if r == h {
			return i + 1
		}
	}
	return 0
}
