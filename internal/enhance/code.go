package enhance

import (
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// RestoreIndentation re-indents merged or bracket-unbalanced code by bracket depth. Code without
// braces, and languages where indentation is syntax, are never touched. It reports whether the
// source changed.
func RestoreIndentation(rec *models.QuestionRecord, unit string) bool {
	code := rec.Passage.Code
	if rec.Passage.Kind != models.PassageCode || code == nil || code.Source == "" {
		return false
	}
	if indentationScoped[strings.ToLower(code.Language)] {
		return false
	}
	depth, hasBraces := bracketBalance(code.Source)
	if !hasBraces || (!rec.Quality.Merged && depth == 0) {
		return false
	}
	out := Reindent(code.Source, unit)
	if out == code.Source {
		return false
	}
	code.Source = out
	rec.Quality.CodeReindented = true
	return true
}

// Reindent rewrites leading whitespace so each line is indented unit × bracket depth. Lines that
// open with a closer are dedented first. Blank lines are kept empty.
func Reindent(src, unit string) string {
	lines := strings.Split(src, "\n")
	depth := 0
	var s scanner
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			lines[i] = ""
			continue
		}
		if s.inBlockString() {
			// Inside a multi-line string literal the text is content, not layout.
			depth = max(depth+s.scan(line), 0)
			continue
		}
		lead := 0
		for _, r := range trimmed {
			if !isCloser(r) {
				break
			}
			lead++
		}
		level := max(depth-lead, 0)
		lines[i] = strings.Repeat(unit, level) + trimmed
		depth = max(depth+s.scan(trimmed), 0)
	}
	return strings.Join(lines, "\n")
}

var indentationScoped = map[string]bool{
	"python": true, "py": true, "yaml": true, "yml": true, "haskell": true, "fsharp": true,
}

// bracketBalance returns the net bracket depth of src outside string literals and comments and
// whether any curly brace occurs.
func bracketBalance(src string) (depth int, hasBraces bool) {
	var s scanner
	for _, line := range strings.Split(src, "\n") {
		d, seen := s.scanCount(line)
		depth += d
		hasBraces = hasBraces || seen
	}
	return depth, hasBraces
}

// scanner tracks string state across lines. Only backtick strings may span lines.
type scanner struct {
	backtick bool
}

func (s *scanner) inBlockString() bool {
	return s.backtick
}

func (s *scanner) scan(line string) int {
	d, _ := s.scanCount(line)
	return d
}

func (s *scanner) scanCount(line string) (depth int, seen bool) {
	var quote rune
	prev := rune(0)
	for _, r := range line {
		switch {
		case s.backtick:
			if r == '`' {
				s.backtick = false
			}
		case quote != 0:
			if r == quote && prev != '\\' {
				quote = 0
			}
		case r == '`':
			s.backtick = true
		case r == '"' || r == '\'':
			quote = r
		case r == '/' && prev == '/', r == '#':
			return depth, seen
		case isOpener(r):
			depth++
			seen = seen || r == '{'
		case isCloser(r):
			depth--
			seen = seen || r == '}'
		}
		if prev == '\\' && r == '\\' {
			prev = 0
			continue
		}
		prev = r
	}
	return depth, seen
}

func isOpener(r rune) bool {
	return r == '{' || r == '(' || r == '['
}

func isCloser(r rune) bool {
	return r == '}' || r == ')' || r == ']'
}
