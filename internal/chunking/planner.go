// Package chunking cuts a document into overlapping extraction units so that every page boundary
// is seen whole by at least one chunk.
package chunking

import (
	"fmt"
	"image"
	"sort"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/pages"
)

// Options configures a Planner.
type Options struct {
	OverlapTail         float64
	OverlapHead         float64
	AvgQuestionsPerPage int
	MultiPageWindows    bool
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{OverlapTail: 0.30, OverlapHead: 0.30, AvgQuestionsPerPage: 5, MultiPageWindows: true}
}

// Planner builds chunk plans.
type Planner struct {
	opts Options
}

func NewPlanner(opts Options) *Planner {
	if opts.AvgQuestionsPerPage <= 0 {
		opts.AvgQuestionsPerPage = 5
	}
	return &Planner{opts: opts}
}

// Plan returns, for pageCount pages, one single_page chunk per page, one boundary_overlap chunk per
// adjacent page pair and one multi_page_window chunk per two pages (a trailing odd page forms a
// one-page window). Plan only reads page metadata; Materialize attaches the pixels.
func (p *Planner) Plan(pageCount int, plan models.StructurePlan) []models.Chunk {
	if pageCount <= 0 {
		return nil
	}
	chunks := make([]models.Chunk, 0, 3*pageCount)

	for page := 1; page <= pageCount; page++ {
		span := models.PageSpan{Start: page, End: page}
		questions := plan.QuestionsOnPages(page, page)
		chunks = append(chunks, p.chunk(models.ChunkSinglePage, span, questions, DominantType(&plan, questions, nil)))
	}

	for page := 1; page < pageCount; page++ {
		span := models.PageSpan{Start: page, End: page + 1}
		questions := boundaryQuestions(&plan, page)
		issues := plan.IssuesAt(page)
		c := p.chunk(models.ChunkBoundaryOverlap, span, questions, DominantType(&plan, questions, issues))
		if len(questions) == 0 {
			c.EstimatedQuestions = 1
		}
		chunks = append(chunks, c)
	}

	if p.opts.MultiPageWindows {
		for start := 1; start <= pageCount; start += 2 {
			end := min(start+1, pageCount)
			span := models.PageSpan{Start: start, End: end}
			questions := plan.QuestionsOnPages(start, end)
			chunks = append(chunks, p.chunk(models.ChunkMultiPageWindow, span, questions, DominantType(&plan, questions, nil)))
		}
	}
	return chunks
}

func (p *Planner) chunk(kind models.ChunkKind, span models.PageSpan, questions []int, ct models.ContentType) models.Chunk {
	estimated := len(questions)
	if estimated == 0 {
		estimated = p.opts.AvgQuestionsPerPage * span.Pages()
	}
	return models.Chunk{
		ID:                 models.ChunkID(kind, span),
		Span:               span,
		Kind:               kind,
		ContentType:        ct,
		EstimatedQuestions: estimated,
		PlannedQuestions:   questions,
	}
}

// boundaryQuestions are the questions a boundary chunk is expected to see: the last question of
// the upper page, the first of the lower page, and any predicted split at that boundary.
func boundaryQuestions(plan *models.StructurePlan, page int) []int {
	set := map[int]bool{}
	if upper := plan.QuestionsOnPages(page, page); len(upper) > 0 {
		set[upper[len(upper)-1]] = true
	}
	if lower := plan.QuestionsOnPages(page+1, page+1); len(lower) > 0 {
		set[lower[0]] = true
	}
	for _, issue := range plan.IssuesAt(page) {
		if issue.QuestionNumber > 0 {
			set[issue.QuestionNumber] = true
		}
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// DominantType picks the extraction mode for a set of questions: TEXT when none is special, the
// special type when exactly one kind appears, MIXED otherwise. Split tables and code predicted at
// a boundary count as that content.
func DominantType(plan *models.StructurePlan, questions []int, issues []models.BoundaryIssue) models.ContentType {
	kinds := map[models.ContentType]bool{}
	for _, n := range questions {
		if ct := plan.ContentTypeOf(n); ct != models.ContentText {
			kinds[ct] = true
		}
	}
	for _, issue := range issues {
		switch issue.Kind {
		case models.IssueSplitTable:
			kinds[models.ContentTable] = true
		case models.IssueSplitCode:
			kinds[models.ContentCode] = true
		}
	}
	switch len(kinds) {
	case 0:
		return models.ContentText
	case 1:
		for ct := range kinds {
			return ct
		}
	}
	return models.ContentMixed
}

// Encoder turns an image into bytes the capability accepts.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Materialize attaches encoded image bytes to c from the rendered pages (keyed by page number).
func (p *Planner) Materialize(c *models.Chunk, rendered map[int]image.Image, enc Encoder) error {
	var img image.Image
	switch c.Kind {
	case models.ChunkSinglePage:
		img = rendered[c.Span.Start]
	case models.ChunkBoundaryOverlap:
		top, bottom := rendered[c.Span.Start], rendered[c.Span.End]
		if top == nil || bottom == nil {
			return fmt.Errorf("chunk %s: pages %s not rendered", c.ID, c.Span)
		}
		img = pages.Composite(top, bottom, p.opts.OverlapTail, p.opts.OverlapHead)
	case models.ChunkMultiPageWindow:
		var stack []image.Image
		for page := c.Span.Start; page <= c.Span.End; page++ {
			if rendered[page] == nil {
				return fmt.Errorf("chunk %s: page %d not rendered", c.ID, page)
			}
			stack = append(stack, rendered[page])
		}
		img = pages.Stack(stack...)
	}
	if img == nil {
		return fmt.Errorf("chunk %s: nothing to render", c.ID)
	}
	data, err := enc.Encode(img)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Image = data
	c.MIMEType = pages.MIMEType
	return nil
}
