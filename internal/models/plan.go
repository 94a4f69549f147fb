package models

import (
	"sort"
	"strings"
)

// BoundaryIssueKind is the predicted reason content crosses a page boundary.
type BoundaryIssueKind string

const (
	IssueIncompleteChoices BoundaryIssueKind = "incomplete_choices"
	IssueSplitTable        BoundaryIssueKind = "split_table"
	IssueSplitCode         BoundaryIssueKind = "split_code"
	IssueSplitPassage      BoundaryIssueKind = "split_passage"
)

// ParseBoundaryIssueKind normalizes model output; unknown kinds become split_passage.
func ParseBoundaryIssueKind(s string) BoundaryIssueKind {
	switch BoundaryIssueKind(s) {
	case IssueIncompleteChoices, IssueSplitTable, IssueSplitCode, IssueSplitPassage:
		return BoundaryIssueKind(s)
	}
	switch ParseContentType(s) {
	case ContentTable:
		return IssueSplitTable
	case ContentCode:
		return IssueSplitCode
	}
	if containsFold(s, "choice") {
		return IssueIncompleteChoices
	}
	return IssueSplitPassage
}

// BoundaryIssue is a predicted cross-page split.
type BoundaryIssue struct {
	QuestionNumber int               `json:"questionNumber" firestore:"questionNumber"`
	Kind           BoundaryIssueKind `json:"kind" firestore:"kind"`
	PagesInvolved  []int             `json:"pagesInvolved" firestore:"pagesInvolved"`
}

// PlanSource records whether the plan came from the model or the page-count heuristic.
type PlanSource string

const (
	PlanFromModel     PlanSource = "model"
	PlanFromHeuristic PlanSource = "heuristic"
)

// StructurePlan is the document-level extraction plan. It is produced once and read-only after.
type StructurePlan struct {
	DocumentType          string              `json:"documentType" firestore:"documentType"`
	ExpectedQuestionCount int                 `json:"expectedQuestionCount" firestore:"expectedQuestionCount"`
	PageRanges            map[int][]int       `json:"pageRanges" firestore:"-"`
	SpecialContentMap     map[int]ContentType `json:"specialContentMap" firestore:"-"`
	BoundaryIssues        []BoundaryIssue     `json:"boundaryIssues" firestore:"boundaryIssues"`
	Source                PlanSource          `json:"source" firestore:"source"`
}

// QuestionsOnPages returns the sorted, de-duplicated question numbers planned for pages [start, end].
func (p *StructurePlan) QuestionsOnPages(start, end int) []int {
	if p == nil {
		return nil
	}
	seen := map[int]bool{}
	var out []int
	for page := start; page <= end; page++ {
		for _, n := range p.PageRanges[page] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Ints(out)
	return out
}

// ContentTypeOf returns the planned content type for a question, defaulting to ContentText.
func (p *StructurePlan) ContentTypeOf(questionNumber int) ContentType {
	if p == nil {
		return ContentText
	}
	if ct, ok := p.SpecialContentMap[questionNumber]; ok {
		return ct
	}
	return ContentText
}

// PagesOf returns the pages a question is planned on, in order.
func (p *StructurePlan) PagesOf(questionNumber int) []int {
	if p == nil {
		return nil
	}
	var pages []int
	for page, nums := range p.PageRanges {
		for _, n := range nums {
			if n == questionNumber {
				pages = append(pages, page)
				break
			}
		}
	}
	sort.Ints(pages)
	return pages
}

// IssuesAt returns boundary issues that involve the boundary between page and page+1.
func (p *StructurePlan) IssuesAt(page int) []BoundaryIssue {
	if p == nil {
		return nil
	}
	var out []BoundaryIssue
	for _, issue := range p.BoundaryIssues {
		hasTop, hasBottom := false, false
		for _, pg := range issue.PagesInvolved {
			hasTop = hasTop || pg == page
			hasBottom = hasBottom || pg == page+1
		}
		if hasTop && hasBottom {
			out = append(out, issue)
		}
	}
	return out
}

// Document is the ingestion unit. It is immutable once the structure plan is attached.
type Document struct {
	ID               string        `json:"id"`
	SourcePath       string        `json:"sourcePath"`
	PageCount        int           `json:"pageCount"`
	RenderedPageRefs []PageRef     `json:"renderedPageRefs"`
	Plan             StructurePlan `json:"structurePlan"`
}

// PageRef identifies one rendered page.
type PageRef struct {
	Page   int    `json:"page"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	DPI    int    `json:"dpi"`
	Ref    string `json:"ref,omitempty"`
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
