// Package repair turns raw vision responses into question records. Responses are decoded through a
// ladder of progressively more forgiving stages and the first stage that yields data wins.
package repair

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Decoded is the ladder outcome for an array-of-records response.
type Decoded struct {
	Items  []map[string]any
	Stage  models.RepairStage
	Status models.ParseStatus
}

// StatusFor maps a ladder stage onto the parse status reported per chunk.
func StatusFor(stage models.RepairStage) models.ParseStatus {
	switch stage {
	case models.StageDirect:
		return models.ParseOK
	case models.StageDelimiters, models.StageCommonFixes:
		return models.ParseFixed
	case models.StageSalvage:
		return models.ParsePartial
	}
	return models.ParseFailed
}

var errNoRecords = errors.New("no record list in response")

// DecodeRecords runs the ladder for a response that should hold a list of question objects, either
// bare or wrapped as {"questions": [...]}. It never fails: the terminal stage yields no items.
func DecodeRecords(raw string) Decoded {
	for _, step := range candidates(raw) {
		if items, err := recordsFrom(step.text); err == nil {
			return Decoded{Items: items, Stage: step.stage, Status: StatusFor(step.stage)}
		}
	}

	if items := salvageObjects(raw); len(items) > 0 {
		return Decoded{Items: items, Stage: models.StageSalvage, Status: models.ParsePartial}
	}
	if items := salvagePairs(raw); len(items) > 0 {
		return Decoded{Items: items, Stage: models.StageSalvage, Status: models.ParsePartial}
	}
	return Decoded{Items: []map[string]any{}, Stage: models.StageFallback, Status: models.ParseFailed}
}

type candidate struct {
	stage models.RepairStage
	text  string
}

// candidates lists the texts tried by the first three stages, in order.
func candidates(raw string) []candidate {
	defenced := stripFences(raw)
	stripped := outermostJSON(defenced)
	out := []candidate{
		{models.StageDirect, raw},
		{models.StageDelimiters, stripped},
	}
	// A truncated value is repaired from its first bracket to the end of the text so the
	// unterminated tail is kept; the outermost balanced slice is the fallback.
	if start := strings.IndexAny(defenced, "[{"); start >= 0 {
		out = append(out, candidate{models.StageCommonFixes, repairJSON(defenced[start:])})
	}
	out = append(out, candidate{models.StageCommonFixes, repairJSON(stripped)})

	filtered := out[:0]
	for _, c := range out {
		if strings.TrimSpace(c.text) != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// DecodeObject runs the ladder for a response that should be a single JSON object. ok is false
// when even salvage finds nothing.
func DecodeObject(raw string) (obj map[string]any, stage models.RepairStage, ok bool) {
	for _, step := range candidates(raw) {
		var v any
		if err := unmarshal(step.text, &v); err != nil {
			continue
		}
		if m, isObj := v.(map[string]any); isObj {
			return m, step.stage, true
		}
	}
	for _, text := range balancedObjects(raw) {
		if m, err := objectFrom(text); err == nil && len(m) > 0 {
			return m, models.StageSalvage, true
		}
	}
	return nil, models.StageFallback, false
}

func unmarshal(text string, v any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// recordsFrom accepts a bare array, a wrapper object, or a single record object.
func recordsFrom(text string) ([]map[string]any, error) {
	var v any
	if err := unmarshal(text, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return objectsIn(t), nil
	case map[string]any:
		for _, key := range []string{"questions", "items", "results", "data"} {
			if list, ok := t[key].([]any); ok {
				return objectsIn(list), nil
			}
		}
		if looksLikeRecord(t) {
			return []map[string]any{t}, nil
		}
	}
	return nil, errNoRecords
}

func objectsIn(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func objectFrom(text string) (map[string]any, error) {
	var m map[string]any
	if err := unmarshal(text, &m); err == nil {
		return m, nil
	}
	if err := unmarshal(repairJSON(text), &m); err != nil {
		return nil, err
	}
	return m, nil
}

var recordKeys = []string{"question_number", "questionNumber", "number", "question_text", "text", "question", "choices", "options"}

func looksLikeRecord(m map[string]any) bool {
	for _, k := range recordKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	openFenceRe = regexp.MustCompile("^```[A-Za-z]*[ \t]*\r?\n?")
)

// stripFences removes a markdown code fence around the response, closed or not.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = openFenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// outermostJSON drops prose before and after the outermost JSON value.
func outermostJSON(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	if end := matchingClose(s, start); end >= 0 {
		return s[start : end+1]
	}
	if last := strings.LastIndexAny(s, "]}"); last > start {
		return s[start : last+1]
	}
	return s[start:]
}

// matchingClose returns the index of the bracket closing the one at start, skipping string
// contents, or -1 when the value is truncated.
func matchingClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
