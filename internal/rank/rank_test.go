package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

func choices(n int) []models.ChoiceRecord {
	out := make([]models.ChoiceRecord, n)
	for i := range out {
		out[i] = models.ChoiceRecord{Marker: i + 1, Content: "c"}
	}
	return out
}

func record(n int, chunk string, kind models.ChunkKind, nChoices int) models.QuestionRecord {
	return models.QuestionRecord{
		QuestionNumber: n,
		Text:           "다음 표를 보고 옳은 것을 고르시오.",
		Choices:        choices(nChoices),
		Provenance:     []string{chunk},
		SourceKind:     kind,
	}
}

func TestRankPrefersCompleteTableVersion(t *testing.T) {
	partial := record(6, "page-3", models.ChunkSinglePage, 3)
	complete := record(6, "page-4", models.ChunkSinglePage, 4)
	complete.Flags.HasTable = true
	complete.Passage = models.Passage{Kind: models.PassageTable, Table: &models.Table{
		Header: []string{"x", "y"},
		Rows:   [][]string{{"1", "2"}, {"3", "4"}},
	}}

	out := New(DefaultWeights()).Rank([]models.QuestionRecord{partial, complete})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"page-4"}, out[0].Provenance)
	assert.Len(t, out[0].Choices, 4)
	assert.True(t, out[0].Flags.HasTable)
	assert.Equal(t, []string{"page-3"}, out[0].DiscardedProvenance)
	assert.Greater(t, out[0].CompletenessScore, 0.0)
}

func TestRankIsIdempotent(t *testing.T) {
	in := []models.QuestionRecord{
		record(2, "page-1", models.ChunkSinglePage, 4),
		record(1, "page-1", models.ChunkSinglePage, 2),
		record(1, "overlap-1-2", models.ChunkBoundaryOverlap, 4),
		record(1, "window-1-2", models.ChunkMultiPageWindow, 4),
	}
	r := New(DefaultWeights())

	once := r.Rank(in)
	twice := r.Rank(once)

	assert.Equal(t, once, twice)
	require.Len(t, once, 2)
	assert.Equal(t, []string{"overlap-1-2"}, once[0].Provenance)
	assert.Equal(t, []string{"page-1", "window-1-2"}, once[0].DiscardedProvenance)
}

func TestRankTieBreaks(t *testing.T) {
	r := New(DefaultWeights())
	tests := []struct {
		name   string
		a, b   models.QuestionRecord
		winner string
	}{
		{
			name:   "kind bonus",
			a:      record(1, "page-1", models.ChunkSinglePage, 4),
			b:      record(1, "window-1-2", models.ChunkMultiPageWindow, 4),
			winner: "window-1-2",
		},
		{
			name: "longer text",
			a:    record(1, "page-1", models.ChunkSinglePage, 4),
			b: func() models.QuestionRecord {
				q := record(1, "page-2", models.ChunkSinglePage, 4)
				q.Text += " (단, 조건을 만족한다.)"
				return q
			}(),
			winner: "page-2",
		},
		{
			name:   "lexicographic provenance",
			a:      record(1, "page-2", models.ChunkSinglePage, 4),
			b:      record(1, "page-1", models.ChunkSinglePage, 4),
			winner: "page-1",
		},
		{
			name: "incomplete penalty",
			a: func() models.QuestionRecord {
				q := record(1, "page-1", models.ChunkSinglePage, 4)
				q.Quality.IncompleteChoices = true
				return q
			}(),
			b:      record(1, "page-2", models.ChunkSinglePage, 3),
			winner: "page-2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := r.Rank([]models.QuestionRecord{tt.a, tt.b})
			ba := r.Rank([]models.QuestionRecord{tt.b, tt.a})
			require.Len(t, ab, 1)
			assert.Equal(t, []string{tt.winner}, ab[0].Provenance)
			assert.Equal(t, ab, ba)
		})
	}
}

func TestScorePassageIsCapped(t *testing.T) {
	r := New(DefaultWeights())
	short := models.QuestionRecord{Passage: models.Passage{Kind: models.PassageText, Text: "abc"}}
	long := models.QuestionRecord{Passage: models.Passage{Kind: models.PassageText, Text: string(make([]byte, 5000))}}
	capped := models.QuestionRecord{Passage: models.Passage{Kind: models.PassageText, Text: string(make([]byte, 400))}}

	assert.Less(t, r.Score(short), r.Score(long))
	assert.Equal(t, r.Score(capped), r.Score(long))
}

func TestBest(t *testing.T) {
	r := New(DefaultWeights())
	_, ok := r.Best(nil)
	assert.False(t, ok)

	best, ok := r.Best([]models.QuestionRecord{
		record(5, "page-1", models.ChunkSinglePage, 2),
		record(5, "page-2", models.ChunkSinglePage, 5),
	})
	require.True(t, ok)
	assert.Equal(t, []string{"page-2"}, best.Provenance)
}
