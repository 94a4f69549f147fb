package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/metrics"
	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

type fakeDocument struct {
	pages  int
	closed bool
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) Render(_ context.Context, page, dpi int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, dpi, dpi*2))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: uint8(200 - page*10)}}, image.Point{}, draw.Src)
	return img, nil
}

func (d *fakeDocument) ImageHints() map[int]int { return map[int]int{2: 4} }

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

// scriptedInvoker answers by recognising which chunk an instruction was rendered for.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]error
	seen    []string
}

func (s *scriptedInvoker) Call(_ context.Context, req vision.Request, _ *slog.Logger) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for marker, err := range s.fail {
		if strings.Contains(req.Instruction, marker) {
			s.seen = append(s.seen, marker)
			return "", 1, err
		}
	}
	for marker, reply := range s.replies {
		if strings.Contains(req.Instruction, marker) {
			s.seen = append(s.seen, marker)
			return reply, 1, nil
		}
	}
	return "", 1, errors.New("unexpected instruction")
}

const (
	analyzerMarker = "The paper has 2 pages"
	page1Marker    = "The image shows page 1 of"
	page2Marker    = "The image shows page 2 of"
	overlapMarker  = "the boundary between pages 1 and 2"
	windowMarker   = "pages 1 to 2 stacked vertically"
)

func examInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		replies: map[string]string{
			analyzerMarker: `{"document_type": "multiple_choice_exam", "expected_question_count": 3,
				"page_ranges": {"1": [1, 2], "2": [2, 3]},
				"special_content": {"3": "CHOICE_IMAGE"},
				"boundary_issues": [{"question_number": 2, "kind": "incomplete_choices", "pages": [1, 2]}]}`,
			page1Marker: `[
				{"question_number": 1, "question_text": "다음 중 옳은 것은?", "choices": ["① 가", "② 나", "③ 다", "④ 라"]},
				{"question_number": 2, "question_text": "다음 중 옳지 않은 것은?", "choices": ["① 하나", "② 둘"]}
			]`,
			overlapMarker: "```json\n[{\"question_number\": null, \"question_text\": \"\", \"choices\": [\"③ 셋\", \"④ 넷\"]}]\n```",
			page2Marker: `[
				{"question_number": null, "question_text": "", "choices": ["③ 셋", "④ 넷"]},
				{"question_number": 3, "question_text": "그림에 해당하는 것을 고르시오.", "content_type": "CHOICE_IMAGE",
				 "choices": [{"marker": "①", "content": "[IMAGE:q3:1]"}, {"marker": "②", "content": "[IMAGE:q3:2]"},
				             {"marker": "③", "content": "[IMAGE:q3:3]"}, {"marker": "④", "content": "[IMAGE:q3:4]"}]}
			]`,
		},
		fail: map[string]error{windowMarker: errors.New("model refused the request")},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AnalyzerDPI = 20
	cfg.ExtractDPI = 40
	cfg.MaxImageEdge = 200
	return cfg
}

func newTestPipeline(t *testing.T, inv vision.Invoker, doc Document, questions QuestionStore, assets *MemoryAssetStore) *Pipeline {
	t.Helper()
	deps := Deps{
		Invoker:   inv,
		Questions: questions,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Open: func(context.Context, string, *slog.Logger) (Document, error) {
			return doc, nil
		},
	}
	if assets != nil {
		deps.Assets = assets.ForDocument
	}
	p, err := New(testConfig(), deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestRunEndToEnd(t *testing.T) {
	doc := &fakeDocument{pages: 2}
	questions := NewMemoryQuestionStore()
	assets := NewMemoryAssetStore()
	p := newTestPipeline(t, examInvoker(), doc, questions, assets)

	pkg, err := p.Run(context.Background(), Request{DocumentID: "doc-1", Path: "exam.pdf"})
	require.NoError(t, err)
	assert.True(t, doc.closed)

	require.Len(t, pkg.Questions, 3)
	for i, q := range pkg.Questions {
		assert.Equal(t, i+1, q.QuestionNumber)
		require.Len(t, q.Choices, 4, "question %d", q.QuestionNumber)
		assert.True(t, q.ChoicesContiguous())
	}

	q2 := pkg.Questions[1]
	assert.True(t, q2.Quality.CrossPageResolved)
	assert.False(t, q2.Quality.IncompleteChoices)
	assert.Equal(t, "③", q2.Choices[2].Label)
	assert.Contains(t, q2.Provenance, "overlap-1-2")

	q3 := pkg.Questions[2]
	for _, ch := range q3.Choices {
		assert.Equal(t, "mem://doc-1/q0003_choice_1", ch.ImageRef)
		assert.False(t, models.HasImagePlaceholder(ch.Content))
	}
	_, stored := assets.Object("mem://doc-1/q0003_choice_1")
	assert.True(t, stored)

	assert.Equal(t, models.PlanFromModel, pkg.Plan.Source)
	assert.Equal(t, 3, pkg.Report.ExpectedQuestions)
	assert.Empty(t, pkg.Report.MissingNumbers)
	assert.Empty(t, pkg.Unresolved)
	assert.Equal(t, 1, pkg.Report.CrossPageResolved)
	assert.Equal(t, []string{"window-1-2"}, pkg.Report.FailedChunks)
	assert.Equal(t, 2, pkg.Report.ParseStatusCounts[models.ParseOK])
	assert.Equal(t, 1, pkg.Report.ParseStatusCounts[models.ParseFixed])
	assert.Len(t, pkg.Diagnostics, 4)

	assert.Len(t, questions.Questions("doc-1"), 3)
}

func TestRunFallsBackWhenProviderIsDown(t *testing.T) {
	inv := &scriptedInvoker{fail: map[string]error{"": &vision.TransientError{StatusCode: 503}}}
	p := newTestPipeline(t, inv, &fakeDocument{pages: 2}, nil, nil)

	pkg, err := p.Run(context.Background(), Request{DocumentID: "doc-2"})
	require.NoError(t, err)

	assert.Equal(t, models.PlanFromHeuristic, pkg.Plan.Source)
	assert.Empty(t, pkg.Questions)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, pkg.Unresolved)
	assert.Len(t, pkg.Report.FailedChunks, 4)
}

func TestRunRejectsUnreadableInput(t *testing.T) {
	p, err := New(testConfig(), Deps{
		Invoker: examInvoker(),
		Open: func(_ context.Context, path string, _ *slog.Logger) (Document, error) {
			return nil, &models.FatalInputError{Path: path, Err: errors.New("not a pdf")}
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	pkg, err := p.Run(context.Background(), Request{DocumentID: "doc-3", Path: "broken.pdf"})
	assert.Nil(t, pkg)
	assert.True(t, models.IsFatalInput(err))
}

type failingStore struct{}

func (failingStore) UpsertQuestions(context.Context, string, models.Metadata, []models.QuestionRecord) error {
	return errors.New("firestore unavailable")
}

func TestRunReturnsPackageWhenPersistenceFails(t *testing.T) {
	p := newTestPipeline(t, examInvoker(), &fakeDocument{pages: 2}, failingStore{}, nil)

	pkg, err := p.Run(context.Background(), Request{DocumentID: "doc-4"})
	require.Error(t, err)
	require.NotNil(t, pkg)
	assert.Len(t, pkg.Questions, 3)
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPipeline(t, examInvoker(), &fakeDocument{pages: 2}, nil, nil)

	_, err := p.Run(ctx, Request{DocumentID: "doc-5"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresCapability(t *testing.T) {
	_, err := New(config.Default(), Deps{}, nil)
	assert.Error(t, err)
}

func TestMemoryQuestionStoreUpsertsByNumber(t *testing.T) {
	s := NewMemoryQuestionStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertQuestions(ctx, "d", models.Metadata{}, []models.QuestionRecord{{QuestionNumber: 2, Text: "old"}, {QuestionNumber: 1}}))
	require.NoError(t, s.UpsertQuestions(ctx, "d", models.Metadata{}, []models.QuestionRecord{{QuestionNumber: 2, Text: "new"}}))

	got := s.Questions("d")
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[1].Text)
}
