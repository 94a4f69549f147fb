package rules

// DefaultCues are fragments that only appear in a question stem.
var DefaultCues = []string{
	"다음 중", "?", "？", "구하시오", "고르시오", "옳은", "것은", "옳지 않은", "무엇인가", "쓰시오",
	"Which", "which", "What", "what", "Choose", "choose", "Select", "select",
}

// shortStem is the longest stem an unnumbered orphan may carry; longer text is more likely a
// passage fragment.
const shortStem = 40

// DefaultRules returns the built-in classification rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "empty",
			Label:       LabelEmpty,
			Confidence:  1,
			Priority:    0,
			Enabled:     true,
			Description: "Nothing but whitespace: no stem, no choices, no passage",
			Match: func(in Input) bool {
				return in.Stem == "" && in.ChoiceCount == 0 && !in.HasPassage
			},
		},
		{
			Name:        "stem_with_cue",
			Label:       LabelQuestion,
			Confidence:  0.95,
			Priority:    1,
			Enabled:     true,
			Description: "A stem carrying a question cue is a question, numbered or not",
			Match: func(in Input) bool {
				return in.HasCue && !in.MarkerLedStem
			},
		},
		{
			Name:        "choices_only",
			Label:       LabelOrphanChoices,
			Confidence:  0.9,
			Priority:    2,
			Enabled:     true,
			Description: "Choices with no stem at all",
			Match: func(in Input) bool {
				return in.ChoiceCount > 0 && in.Stem == "" && !in.HasPassage
			},
		},
		{
			Name:        "marker_led_lines",
			Label:       LabelOrphanChoices,
			Confidence:  0.85,
			Priority:    2,
			Enabled:     true,
			Description: "Every stem line starts with a choice marker and there is no cue",
			Match: func(in Input) bool {
				return in.MarkerLedStem && !in.HasCue
			},
		},
		{
			Name:        "unnumbered_short_stem",
			Label:       LabelOrphanChoices,
			Confidence:  0.6,
			Priority:    3,
			Enabled:     true,
			Description: "Unattributed choices behind a short stem with no cue, usually a continuation line",
			Match: func(in Input) bool {
				return in.QuestionNumber <= 0 && in.ChoiceCount > 0 && !in.HasCue && runeLen(in.Stem) <= shortStem
			},
		},
		{
			Name:        "numbered",
			Label:       LabelQuestion,
			Confidence:  0.7,
			Priority:    4,
			Enabled:     true,
			Description: "Any record the extractor attributed to a question number",
			Match: func(in Input) bool {
				return in.QuestionNumber > 0
			},
		},
		{
			Name:        "unnumbered_text",
			Label:       LabelFragment,
			Confidence:  0.5,
			Priority:    5,
			Enabled:     true,
			Description: "Unattributed text that is neither a question nor a choice block",
			Match: func(Input) bool {
				return true
			},
		},
	}
}
