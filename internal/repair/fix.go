package repair

import "github.com/kaptinlin/jsonrepair"

// repairJSON rewrites the mistakes language models make most often when emitting JSON: trailing
// commas, unquoted keys, single or smart quotes, raw control characters inside strings, Python
// literals, comments, missing commas, and truncation. It returns "" when the text is beyond repair.
func repairJSON(s string) (out string) {
	if s == "" {
		return ""
	}
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return ""
	}
	return repaired
}
