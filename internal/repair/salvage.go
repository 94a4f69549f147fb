package repair

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// balancedObjects returns every complete top-level-most {...} substring of text, scanning with
// string-aware bracket balance tracking. A truncated trailing object is returned as-is so the
// caller can try to auto-close it.
func balancedObjects(text string) []string {
	var out []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchingClose(text, i)
		if end < 0 {
			out = append(out, text[i:])
			break
		}
		out = append(out, text[i:end+1])
		i = end
	}
	return out
}

// salvageObjects parses record objects one at a time, descending into containers that do not
// parse (or that are wrappers) to find the records inside.
func salvageObjects(raw string) []map[string]any {
	var items []map[string]any
	var walk func(text string, depth int)
	walk = func(text string, depth int) {
		if depth > 4 {
			return
		}
		for _, obj := range balancedObjects(text) {
			if m, err := objectFrom(obj); err == nil {
				if looksLikeRecord(m) {
					items = append(items, m)
					continue
				}
				if list, err := recordsFrom(obj); err == nil && len(list) > 0 {
					items = append(items, list...)
					continue
				}
			}
			// Step inside the braces to look for nested records.
			if len(obj) > 2 {
				walk(obj[1:], depth+1)
			}
		}
	}
	walk(raw, 0)
	return items
}

var (
	numberKeyRe = regexp.MustCompile(`"(?:question_number|questionNumber|number)"\s*:\s*"?(\d+)"?`)
	textKeyRe   = regexp.MustCompile(`"(?:question_text|text|question|stem)"\s*:\s*"((?:[^"\\]|\\.)*)`)
)

// salvagePairs is the last resort before giving up: it pulls (question_number, text) pairs out
// with regular expressions alone.
func salvagePairs(raw string) []map[string]any {
	locs := numberKeyRe.FindAllStringSubmatchIndex(raw, -1)
	var items []map[string]any
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		n, err := strconv.Atoi(raw[loc[2]:loc[3]])
		if err != nil || n <= 0 {
			continue
		}
		item := map[string]any{"question_number": json.Number(strconv.Itoa(n))}
		if m := textKeyRe.FindStringSubmatch(raw[loc[1]:end]); m != nil {
			item["question_text"] = unescapeJSONString(m[1])
		}
		items = append(items, item)
	}
	return items
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	return strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`).Replace(s)
}
