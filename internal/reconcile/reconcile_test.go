package reconcile

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/rules"
)

func newReconciler() *Reconciler {
	return New(rules.Default(), Options{ExpectedChoices: 4, OrphanMinConfidence: 0.6}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func choices(from, to int) []models.ChoiceRecord {
	var out []models.ChoiceRecord
	for m := from; m <= to; m++ {
		out = append(out, models.ChoiceRecord{Marker: m, Label: rules.CircledLabel(m), Content: "choice"})
	}
	return out
}

func single(page int, recs ...models.QuestionRecord) models.ExtractionResult {
	return result(models.ChunkSinglePage, models.PageSpan{Start: page, End: page}, recs...)
}

func overlap(top int, recs ...models.QuestionRecord) models.ExtractionResult {
	return result(models.ChunkBoundaryOverlap, models.PageSpan{Start: top, End: top + 1}, recs...)
}

func result(kind models.ChunkKind, span models.PageSpan, recs ...models.QuestionRecord) models.ExtractionResult {
	id := models.ChunkID(kind, span)
	for i := range recs {
		recs[i].Provenance = []string{id}
		recs[i].SourceKind = kind
		recs[i].PageStart, recs[i].PageEnd = span.Start, span.End
	}
	return models.ExtractionResult{ChunkID: id, ChunkKind: kind, Span: span, ParseStatus: models.ParseOK, Records: recs}
}

func byNumber(recs []models.QuestionRecord, n int) []models.QuestionRecord {
	var out []models.QuestionRecord
	for _, r := range recs {
		if r.QuestionNumber == n {
			out = append(out, r)
		}
	}
	return out
}

func TestReconcileAttachesOverlapOrphan(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}),
		overlap(1, models.QuestionRecord{Choices: choices(3, 5)}),
		single(2, models.QuestionRecord{QuestionNumber: 12, Text: "값을 구하시오.", Choices: choices(1, 5)}),
	}

	out, stats := newReconciler().Reconcile(results)

	require.Len(t, out, 2)
	q11 := out[0]
	assert.Equal(t, 11, q11.QuestionNumber)
	require.Len(t, q11.Choices, 5)
	for i, ch := range q11.Choices {
		assert.Equal(t, i+1, ch.Marker)
		assert.Equal(t, rules.CircledLabel(i+1), ch.Label)
	}
	assert.True(t, q11.Quality.CrossPageResolved)
	assert.False(t, q11.Quality.IncompleteChoices)
	assert.Equal(t, []string{"page-1", "overlap-1-2"}, q11.Provenance)
	assert.Equal(t, 2, q11.PageEnd)

	assert.Equal(t, 12, out[1].QuestionNumber)
	assert.Equal(t, 1, stats.Orphans)
	assert.Equal(t, 1, stats.OrphansAttached)
}

func TestReconcileIsOrderIndependent(t *testing.T) {
	build := func() []models.ExtractionResult {
		return []models.ExtractionResult{
			single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}),
			overlap(1, models.QuestionRecord{Choices: choices(3, 5)}),
			single(2, models.QuestionRecord{Choices: choices(3, 5)},
				models.QuestionRecord{QuestionNumber: 12, Text: "값을 구하시오.", Choices: choices(1, 5)}),
			result(models.ChunkMultiPageWindow, models.PageSpan{Start: 1, End: 2},
				models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 5)}),
		}
	}
	forward, _ := newReconciler().Reconcile(build())

	reversed := build()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	backward, _ := newReconciler().Reconcile(reversed)

	assert.Equal(t, forward, backward)
}

func TestReconcileFlagsUnmatchedChoices(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{QuestionNumber: 3, Text: "옳은 것은?", Choices: choices(1, 2)}),
	}

	out, _ := newReconciler().Reconcile(results)

	require.Len(t, out, 1)
	assert.True(t, out[0].Quality.IncompleteChoices)
	assert.False(t, out[0].Quality.CrossPageResolved)
}

func TestReconcileUnnumberedOrphanOnlyContinuesLastQuestion(t *testing.T) {
	results := []models.ExtractionResult{
		single(1,
			models.QuestionRecord{QuestionNumber: 3, Text: "옳은 것은?", Choices: choices(1, 2)},
			models.QuestionRecord{QuestionNumber: 4, Text: "옳지 않은 것은?", Choices: choices(1, 4)}),
		overlap(1, models.QuestionRecord{Choices: choices(3, 4)}),
	}

	out, stats := newReconciler().Reconcile(results)

	q3 := byNumber(out, 3)
	require.Len(t, q3, 1)
	assert.Len(t, q3[0].Choices, 2)
	assert.True(t, q3[0].Quality.IncompleteChoices)
	assert.Zero(t, stats.OrphansAttached)
}

func TestReconcileNumberedContinuation(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}),
		single(2, models.QuestionRecord{QuestionNumber: 11, Choices: choices(1, 4)}),
	}

	out, _ := newReconciler().Reconcile(results)

	require.Len(t, out, 1)
	assert.Len(t, out[0].Choices, 4)
	assert.True(t, out[0].Quality.CrossPageResolved)
	assert.Equal(t, []string{"page-1", "page-2"}, out[0].Provenance)
}

func TestReconcileKeepsUnclaimedNumberedFragment(t *testing.T) {
	results := []models.ExtractionResult{
		single(2, models.QuestionRecord{QuestionNumber: 7, Choices: choices(3, 5)}),
	}

	out, _ := newReconciler().Reconcile(results)

	require.Len(t, out, 1)
	assert.Equal(t, 7, out[0].QuestionNumber)
	assert.True(t, out[0].Quality.IncompleteChoices)
}

func TestReconcileDropsUnnumberedQuestions(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{Text: "다음 중 옳은 것은?"}, models.QuestionRecord{}),
	}

	out, stats := newReconciler().Reconcile(results)

	assert.Empty(t, out)
	assert.Equal(t, 1, stats.DroppedUnnumbered)
}

func tableRecord(n int, header []string, rows ...[]string) models.QuestionRecord {
	return models.QuestionRecord{
		QuestionNumber: n,
		Text:           "표를 보고 답하시오.",
		Choices:        choices(1, 4),
		ContentType:    models.ContentTable,
		Flags:          models.ContentFlags{HasTable: true},
		Passage:        models.Passage{Kind: models.PassageTable, Table: &models.Table{Header: header, Rows: rows}},
	}
}

func TestReconcileConcatenatesTableFragments(t *testing.T) {
	header := []string{"x", "y"}
	results := []models.ExtractionResult{
		single(3, tableRecord(6, header, []string{"1", "2"})),
		single(4, tableRecord(6, nil, []string{"x", "y"}, []string{"3", "4"})),
	}

	out, stats := newReconciler().Reconcile(results)

	require.Len(t, out, 2)
	for _, rec := range out {
		assert.Equal(t, header, rec.Passage.Table.Header)
		assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, rec.Passage.Table.Rows)
		assert.True(t, rec.Quality.Merged)
	}
	assert.Equal(t, 2, stats.TablesMerged)
}

func TestReconcileOverlapTableIsAuthoritative(t *testing.T) {
	header := []string{"x", "y"}
	results := []models.ExtractionResult{
		single(3, tableRecord(6, header, []string{"1", "2"})),
		single(4, tableRecord(6, header, []string{"9", "9"})),
		overlap(3, tableRecord(6, header, []string{"1", "2"}, []string{"3", "4"})),
	}

	out, _ := newReconciler().Reconcile(results)

	for _, rec := range byNumber(out, 6) {
		assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, rec.Passage.Table.Rows, rec.Provenance)
	}
}

func TestReconcileConcatenatesCodeFragments(t *testing.T) {
	code := func(src string) models.QuestionRecord {
		return models.QuestionRecord{
			QuestionNumber: 9,
			Text:           "실행 결과를 고르시오.",
			Choices:        choices(1, 4),
			Passage:        models.Passage{Kind: models.PassageCode, Code: &models.Code{Language: "python", Source: src}},
		}
	}
	results := []models.ExtractionResult{
		single(6, code("    return x\n")),
		single(5, code("def f():\n    x = 1\n")),
	}

	out, stats := newReconciler().Reconcile(results)

	require.Len(t, out, 2)
	for _, rec := range out {
		assert.Equal(t, "def f():\n    x = 1\n    return x", rec.Passage.Code.Source)
		assert.Equal(t, "python", rec.Passage.Code.Language)
	}
	assert.Equal(t, 2, stats.CodeMerged)
}

func TestReconcileRaisesExpectedChoicesFromDocument(t *testing.T) {
	results := []models.ExtractionResult{
		single(1,
			models.QuestionRecord{QuestionNumber: 1, Text: "옳은 것은?", Choices: choices(1, 5)},
			models.QuestionRecord{QuestionNumber: 2, Text: "옳은 것은?", Choices: choices(1, 5)},
			models.QuestionRecord{QuestionNumber: 3, Text: "옳은 것은?", Choices: choices(1, 4)}),
	}

	out, _ := newReconciler().Reconcile(results)

	require.Len(t, out, 3)
	assert.False(t, out[0].Quality.IncompleteChoices)
	assert.True(t, out[2].Quality.IncompleteChoices)
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}),
		overlap(1, models.QuestionRecord{Choices: choices(3, 5)}),
	}

	newReconciler().Reconcile(results)

	assert.Len(t, results[0].Records[0].Choices, 2)
	assert.False(t, results[0].Records[0].Quality.CrossPageResolved)
}

func contents(from, to int, content string) []models.ChoiceRecord {
	out := choices(from, to)
	for i := range out {
		out[i].Content = content
	}
	return out
}

func TestReconcileConsecutiveSeamsKeepTheirOwnOrphans(t *testing.T) {
	results := []models.ExtractionResult{
		single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: contents(1, 2, "A")}),
		overlap(1, models.QuestionRecord{Choices: contents(3, 5, "A")}),
		single(2,
			models.QuestionRecord{Choices: contents(3, 5, "A")},
			models.QuestionRecord{QuestionNumber: 12, Text: "값을 구하시오.", Choices: choices(1, 5)},
			models.QuestionRecord{QuestionNumber: 13, Text: "옳지 않은 것은?", Choices: contents(1, 2, "B")}),
		overlap(2, models.QuestionRecord{Choices: contents(3, 5, "B")}),
		single(3,
			models.QuestionRecord{Choices: contents(3, 5, "B")},
			models.QuestionRecord{QuestionNumber: 14, Text: "값을 구하시오.", Choices: choices(1, 5)}),
	}

	out, stats := newReconciler().Reconcile(results)

	require.Len(t, out, 4)
	for _, tc := range []struct {
		number     int
		content    string
		provenance []string
	}{
		{11, "A", []string{"page-1", "overlap-1-2"}},
		{13, "B", []string{"page-2", "overlap-2-3"}},
	} {
		recs := byNumber(out, tc.number)
		require.Len(t, recs, 1)
		q := recs[0]
		assert.Equal(t, tc.provenance, q.Provenance, "question %d", tc.number)
		require.Len(t, q.Choices, 5, "question %d", tc.number)
		for i, ch := range q.Choices {
			assert.Equal(t, i+1, ch.Marker)
			assert.Equal(t, tc.content, ch.Content, "question %d choice %d", tc.number, i+1)
		}
		assert.True(t, q.Quality.CrossPageResolved)
		assert.False(t, q.Quality.IncompleteChoices)
	}
	assert.Equal(t, 2, stats.OrphansAttached)
}

func TestReconcileIgnoresOrphanBelowFirstQuestionOfNextPage(t *testing.T) {
	results := []models.ExtractionResult{
		single(2,
			models.QuestionRecord{QuestionNumber: 12, Text: "값을 구하시오.", Choices: choices(1, 4)},
			models.QuestionRecord{Choices: choices(3, 4)}),
		single(1, models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}),
	}

	out, stats := newReconciler().Reconcile(results)

	require.Len(t, out, 2)
	assert.Zero(t, stats.OrphansAttached)
	q11 := byNumber(out, 11)[0]
	assert.Len(t, q11.Choices, 2)
	assert.True(t, q11.Quality.IncompleteChoices)
	assert.Equal(t, []string{"page-1"}, q11.Provenance)
}

func TestReconcileFixedExpectedChoices(t *testing.T) {
	results := []models.ExtractionResult{
		single(1,
			models.QuestionRecord{QuestionNumber: 1, Text: "옳은 것은?", Choices: choices(1, 5)},
			models.QuestionRecord{QuestionNumber: 2, Text: "옳은 것은?", Choices: choices(1, 5)},
			models.QuestionRecord{QuestionNumber: 3, Text: "옳은 것은?", Choices: choices(1, 4)}),
	}
	r := New(rules.Default(), Options{ExpectedChoices: 4, OrphanMinConfidence: 0.6, FixedExpectedChoices: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	out, _ := r.Reconcile(results)

	require.Len(t, out, 3)
	for _, q := range out {
		assert.False(t, q.Quality.IncompleteChoices, "question %d", q.QuestionNumber)
	}
}
