// Package rules classifies extracted question fragments with an ordered set of weighted predicates.
// Every "is this a question" or "is this an orphan choice block" decision in the pipeline goes
// through one Engine so the heuristics live in a single tunable place.
package rules

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Label is what a fragment was classified as.
type Label string

const (
	LabelQuestion      Label = "question"
	LabelOrphanChoices Label = "orphan_choices"
	LabelFragment      Label = "fragment"
	LabelEmpty         Label = "empty"
)

// Input is the view of a record the predicates look at. Build it once with FromRecord.
type Input struct {
	QuestionNumber int
	Stem           string
	StemLines      []string
	ChoiceCount    int
	HasPassage     bool
	HasCue         bool
	MarkerLedStem  bool
}

// Rule is one predicate with the confidence it lends to its label.
type Rule struct {
	Name        string
	Label       Label
	Confidence  float64
	Priority    int
	Enabled     bool
	Description string
	Match       func(Input) bool
}

// Verdict is the outcome of classifying one input.
type Verdict struct {
	Label      Label
	Confidence float64
	Rule       string
}

// Engine evaluates rules in priority order and returns the first match.
type Engine struct {
	rules []Rule
	cues  []string
}

// NewEngine orders rules by priority, keeping declaration order among equals.
func NewEngine(rules []Rule, cues []string) *Engine {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	return &Engine{rules: ordered, cues: append([]string(nil), cues...)}
}

// Default returns the engine with the built-in exam rules and question cues.
func Default() *Engine {
	return NewEngine(DefaultRules(), DefaultCues)
}

// HasQuestionCue reports whether text carries any question-stem cue.
func (e *Engine) HasQuestionCue(text string) bool {
	for _, cue := range e.cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

// FromRecord builds the predicate input for a record.
func (e *Engine) FromRecord(q models.QuestionRecord) Input {
	in := Input{
		QuestionNumber: q.QuestionNumber,
		Stem:           strings.TrimSpace(q.Text),
		ChoiceCount:    len(q.Choices),
		HasPassage:     !q.Passage.IsEmpty(),
	}
	for _, line := range strings.Split(in.Stem, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			in.StemLines = append(in.StemLines, line)
		}
	}
	in.HasCue = e.HasQuestionCue(in.Stem)
	in.MarkerLedStem = len(in.StemLines) > 0
	for _, line := range in.StemLines {
		if !IsMarkerLed(line) {
			in.MarkerLedStem = false
			break
		}
	}
	return in
}

// Classify returns the verdict of the first enabled rule that matches.
func (e *Engine) Classify(in Input) Verdict {
	for _, r := range e.rules {
		if r.Enabled && r.Match != nil && r.Match(in) {
			return Verdict{Label: r.Label, Confidence: r.Confidence, Rule: r.Name}
		}
	}
	return Verdict{Label: LabelFragment, Confidence: 0, Rule: "none"}
}

// ClassifyRecord is FromRecord followed by Classify.
func (e *Engine) ClassifyRecord(q models.QuestionRecord) Verdict {
	return e.Classify(e.FromRecord(q))
}

// IsOrphan reports whether a record is an orphan choice block with at least minConfidence.
func (e *Engine) IsOrphan(q models.QuestionRecord, minConfidence float64) bool {
	v := e.ClassifyRecord(q)
	return v.Label == LabelOrphanChoices && v.Confidence >= minConfidence
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
