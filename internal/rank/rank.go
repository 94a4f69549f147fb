// Package rank collapses duplicate candidates of a question into the single most complete record.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Weights are the completeness score coefficients.
type Weights struct {
	Choice            float64
	PassageChar       float64
	PassageCap        int
	Flag              float64
	KindBonus         float64
	IncompletePenalty float64
}

// DefaultWeights make a choice worth more than any passage and an incomplete flag worth more than
// a choice.
func DefaultWeights() Weights {
	return Weights{
		Choice:            10,
		PassageChar:       0.05,
		PassageCap:        400,
		Flag:              5,
		KindBonus:         2,
		IncompletePenalty: 15,
	}
}

type Ranker struct {
	w Weights
}

func New(w Weights) *Ranker {
	return &Ranker{w: w}
}

// Score computes the completeness score of a single record.
func (r *Ranker) Score(q models.QuestionRecord) float64 {
	passage := min(q.Passage.Length(), r.w.PassageCap)
	flags := 0
	for _, f := range []bool{q.Flags.HasTable, q.Flags.HasCode, q.Flags.HasImage} {
		if f {
			flags++
		}
	}
	score := float64(len(q.Choices))*r.w.Choice +
		float64(passage)*r.w.PassageChar +
		float64(flags)*r.w.Flag +
		float64(q.SourceKind.Rank())*r.w.KindBonus
	if q.Quality.IncompleteChoices {
		score -= r.w.IncompletePenalty
	}
	return math.Round(score*1000) / 1000
}

// Rank keeps the best record per question number, sorted by number. Provenance of the losers is
// appended to the winner's DiscardedProvenance. Ranking an already ranked set changes nothing.
func (r *Ranker) Rank(records []models.QuestionRecord) []models.QuestionRecord {
	groups := map[int][]models.QuestionRecord{}
	for _, q := range records {
		q = q.Clone()
		q.CompletenessScore = r.Score(q)
		groups[q.QuestionNumber] = append(groups[q.QuestionNumber], q)
	}

	out := make([]models.QuestionRecord, 0, len(groups))
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return r.better(group[i], group[j]) })
		winner := group[0]
		discarded := append([]string(nil), winner.DiscardedProvenance...)
		for _, loser := range group[1:] {
			discarded = append(discarded, loser.Provenance...)
			discarded = append(discarded, loser.DiscardedProvenance...)
		}
		winner.DiscardedProvenance = cleanDiscarded(discarded, winner.Provenance)
		out = append(out, winner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}

// Best returns the winning record of a group of candidates for one question.
func (r *Ranker) Best(candidates []models.QuestionRecord) (models.QuestionRecord, bool) {
	if len(candidates) == 0 {
		return models.QuestionRecord{}, false
	}
	ranked := r.Rank(candidates)
	return ranked[0], true
}

func (r *Ranker) better(a, b models.QuestionRecord) bool {
	if a.CompletenessScore != b.CompletenessScore {
		return a.CompletenessScore > b.CompletenessScore
	}
	if len(a.Choices) != len(b.Choices) {
		return len(a.Choices) > len(b.Choices)
	}
	if len(a.Text) != len(b.Text) {
		return len(a.Text) > len(b.Text)
	}
	return strings.Join(a.Provenance, ",") < strings.Join(b.Provenance, ",")
}

func cleanDiscarded(ids, kept []string) []string {
	skip := map[string]bool{}
	for _, id := range kept {
		skip[id] = true
	}
	var out []string
	for _, id := range ids {
		if id == "" || skip[id] {
			continue
		}
		skip[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
