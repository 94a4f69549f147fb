package structure

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

type fakeInvoker struct {
	response string
	err      error
	requests []vision.Request
}

func (f *fakeInvoker) Call(_ context.Context, req vision.Request, _ *slog.Logger) (string, int, error) {
	f.requests = append(f.requests, req)
	return f.response, 1, f.err
}

func pageImages(n int) []PageImage {
	out := make([]PageImage, n)
	for i := range out {
		out[i] = PageImage{Page: i + 1, Image: vision.Image{Data: []byte{byte(i)}, MIMEType: "image/jpeg"}}
	}
	return out
}

func TestAnalyzeParsesModelPlan(t *testing.T) {
	inv := &fakeInvoker{response: "```json\n" + `{
		"document_type": "multiple_choice_exam",
		"expected_question_count": 8,
		"page_ranges": {"1": [1, 2, 3, 4], "2": [4, 5, 6, 7, 8], "9": [99]},
		"special_content": {"6": "table", "7": "code"},
		"boundary_issues": [{"question_number": 4, "kind": "incomplete_choices", "pages": [1, 2]}],
	}` + "\n```"}
	a := NewAnalyzer(inv, Options{MaxPages: 20}, nil)

	plan := a.Analyze(context.Background(), pageImages(2), 2, Hints{})

	assert.Equal(t, models.PlanFromModel, plan.Source)
	assert.Equal(t, 8, plan.ExpectedQuestionCount)
	assert.Equal(t, []int{1, 2, 3, 4}, plan.PageRanges[1])
	assert.NotContains(t, plan.PageRanges, 9)
	assert.Equal(t, models.ContentTable, plan.ContentTypeOf(6))
	assert.Equal(t, models.ContentCode, plan.ContentTypeOf(7))
	require.Len(t, plan.IssuesAt(1), 1)
	assert.Equal(t, 4, plan.IssuesAt(1)[0].QuestionNumber)

	require.Len(t, inv.requests, 1)
	assert.Len(t, inv.requests[0].Images, 2)
	assert.True(t, inv.requests[0].JSONOutput)
}

func TestAnalyzeFallsBackOnTransportFailure(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("unavailable")}
	plan := NewAnalyzer(inv, Options{AvgQuestionsPerPage: 5}, nil).Analyze(context.Background(), pageImages(3), 3, Hints{})

	assert.Equal(t, models.PlanFromHeuristic, plan.Source)
	assert.Equal(t, 15, plan.ExpectedQuestionCount)
	assert.Equal(t, []int{6, 7, 8, 9, 10}, plan.PageRanges[2])
	assert.Len(t, plan.BoundaryIssues, 2)
	for _, issue := range plan.BoundaryIssues {
		assert.Equal(t, models.IssueIncompleteChoices, issue.Kind)
	}
	assert.Equal(t, models.ContentText, plan.ContentTypeOf(3))
}

func TestAnalyzeFallsBackOnGarbage(t *testing.T) {
	inv := &fakeInvoker{response: "I am unable to help with that."}
	plan := NewAnalyzer(inv, Options{}, nil).Analyze(context.Background(), pageImages(2), 2, Hints{})
	assert.Equal(t, models.PlanFromHeuristic, plan.Source)
	assert.Equal(t, 10, plan.ExpectedQuestionCount)
}

func TestAnalyzeSamplesLongDocuments(t *testing.T) {
	inv := &fakeInvoker{response: `{"page_ranges": {"1": [1]}}`}
	NewAnalyzer(inv, Options{MaxPages: 5}, nil).Analyze(context.Background(), pageImages(40), 40, Hints{ImagePages: map[int]int{3: 1}})

	require.Len(t, inv.requests, 1)
	assert.Len(t, inv.requests[0].Images, 5)
	assert.Contains(t, inv.requests[0].Instruction, "Only a sample of pages is attached")
	assert.Contains(t, inv.requests[0].Instruction, "Pages embedding pictures or diagrams: 3.")
}

func TestSampleKeepsEnds(t *testing.T) {
	got := Sample(pageImages(50), 20)
	require.Len(t, got, 20)
	assert.Equal(t, 1, got[0].Page)
	assert.Equal(t, 50, got[19].Page)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Page, got[i-1].Page)
	}
	assert.Len(t, Sample(pageImages(3), 20), 3)
}

func TestSanitize(t *testing.T) {
	plan := models.StructurePlan{
		PageRanges: map[int][]int{1: {3, 1, 2, 2, -1}, 2: {4, 0}, 5: {9}},
		SpecialContentMap: map[int]models.ContentType{
			0: models.ContentTable,
			4: models.ContentText,
			2: models.ContentChoiceImage,
		},
		BoundaryIssues: []models.BoundaryIssue{
			{QuestionNumber: 3, Kind: models.IssueSplitTable, PagesInvolved: []int{1}},
			{QuestionNumber: 4, Kind: models.IssueSplitCode, PagesInvolved: []int{2}},
			{QuestionNumber: 9, Kind: models.IssueSplitCode, PagesInvolved: []int{7, 8}},
		},
		Source: models.PlanFromModel,
	}
	out := Sanitize(plan, 2, 5)

	assert.Equal(t, map[int][]int{1: {1, 2, 3}, 2: {4}}, out.PageRanges)
	assert.Equal(t, map[int]models.ContentType{2: models.ContentChoiceImage}, out.SpecialContentMap)
	require.Len(t, out.BoundaryIssues, 1)
	assert.Equal(t, []int{1, 2}, out.BoundaryIssues[0].PagesInvolved)
	assert.Equal(t, 4, out.ExpectedQuestionCount)
	assert.Equal(t, "exam", out.DocumentType)
}

func TestSanitizeDistributesCountWithoutRanges(t *testing.T) {
	out := Sanitize(models.StructurePlan{ExpectedQuestionCount: 7}, 2, 5)
	assert.Equal(t, []int{1, 2, 3, 4}, out.PageRanges[1])
	assert.Equal(t, []int{5, 6, 7}, out.PageRanges[2])
}

func TestFromObjectAcceptsListForms(t *testing.T) {
	plan := FromObject(map[string]any{
		"page_ranges": []any{
			map[string]any{"page": 1.0, "first": 1.0, "last": 3.0},
			map[string]any{"page": 2.0, "questions": []any{3.0, 4.0}},
		},
		"special_content": []any{map[string]any{"question_number": 3.0, "content_type": "CHOICE_IMAGE"}},
		"boundary_issues": []any{map[string]any{"question_number": 3.0, "kind": "table", "pages": []any{1.0, 2.0}}},
	})
	assert.Equal(t, []int{1, 2, 3}, plan.PageRanges[1])
	assert.Equal(t, []int{3, 4}, plan.PageRanges[2])
	assert.Equal(t, models.ContentChoiceImage, plan.SpecialContentMap[3])
	assert.Equal(t, models.IssueSplitTable, plan.BoundaryIssues[0].Kind)
}
