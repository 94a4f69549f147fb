package structure

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Heuristic builds the plan used when the model plan is unavailable: avgPerPage sequential
// questions per page, plain text everywhere, and a predicted incomplete-choices issue at every page
// boundary.
func Heuristic(pageCount, avgPerPage int) models.StructurePlan {
	if avgPerPage <= 0 {
		avgPerPage = 5
	}
	plan := models.StructurePlan{
		DocumentType:          "exam",
		ExpectedQuestionCount: pageCount * avgPerPage,
		PageRanges:            make(map[int][]int, pageCount),
		SpecialContentMap:     map[int]models.ContentType{},
		BoundaryIssues:        []models.BoundaryIssue{},
		Source:                models.PlanFromHeuristic,
	}
	for page := 1; page <= pageCount; page++ {
		first := (page-1)*avgPerPage + 1
		nums := make([]int, avgPerPage)
		for i := range nums {
			nums[i] = first + i
		}
		plan.PageRanges[page] = nums
		if page < pageCount {
			plan.BoundaryIssues = append(plan.BoundaryIssues, models.BoundaryIssue{
				QuestionNumber: first + avgPerPage - 1,
				Kind:           models.IssueIncompleteChoices,
				PagesInvolved:  []int{page, page + 1},
			})
		}
	}
	return plan
}

// FromObject reads the analyzer response object. Keys it does not recognise are ignored.
func FromObject(obj map[string]any) models.StructurePlan {
	plan := models.StructurePlan{
		PageRanges:        map[int][]int{},
		SpecialContentMap: map[int]models.ContentType{},
		Source:            models.PlanFromModel,
	}
	plan.DocumentType, _ = obj["document_type"].(string)
	plan.ExpectedQuestionCount = toInt(first(obj, "expected_question_count", "question_count", "total_questions"))

	switch ranges := first(obj, "page_ranges", "pages").(type) {
	case map[string]any:
		for key, v := range ranges {
			page := toInt(key)
			plan.PageRanges[page] = append(plan.PageRanges[page], toInts(v)...)
		}
	case []any:
		for _, el := range ranges {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			page := toInt(m["page"])
			nums := toInts(first(m, "questions", "question_numbers"))
			if lo, hi := toInt(m["first"]), toInt(m["last"]); len(nums) == 0 && lo > 0 && hi >= lo {
				for n := lo; n <= hi; n++ {
					nums = append(nums, n)
				}
			}
			plan.PageRanges[page] = append(plan.PageRanges[page], nums...)
		}
	}

	switch special := first(obj, "special_content", "special_content_map").(type) {
	case map[string]any:
		for key, v := range special {
			s, _ := v.(string)
			plan.SpecialContentMap[toInt(key)] = models.ParseContentType(s)
		}
	case []any:
		for _, el := range special {
			if m, ok := el.(map[string]any); ok {
				s, _ := first(m, "content_type", "type").(string)
				plan.SpecialContentMap[toInt(m["question_number"])] = models.ParseContentType(s)
			}
		}
	}

	if issues, ok := first(obj, "boundary_issues", "boundaries").([]any); ok {
		for _, el := range issues {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			kind, _ := m["kind"].(string)
			plan.BoundaryIssues = append(plan.BoundaryIssues, models.BoundaryIssue{
				QuestionNumber: toInt(m["question_number"]),
				Kind:           models.ParseBoundaryIssueKind(kind),
				PagesInvolved:  toInts(first(m, "pages", "pages_involved")),
			})
		}
	}
	return plan
}

// Sanitize clamps a plan to the document: pages outside 1..pageCount and non-positive question
// numbers are dropped, numbers are sorted and de-duplicated, single-page boundary issues are
// widened to the following page, and a missing expected count is derived.
func Sanitize(plan models.StructurePlan, pageCount, avgPerPage int) models.StructurePlan {
	out := models.StructurePlan{
		DocumentType:          plan.DocumentType,
		ExpectedQuestionCount: plan.ExpectedQuestionCount,
		PageRanges:            map[int][]int{},
		SpecialContentMap:     map[int]models.ContentType{},
		BoundaryIssues:        []models.BoundaryIssue{},
		Source:                plan.Source,
	}
	if out.DocumentType == "" {
		out.DocumentType = "exam"
	}

	maxNumber := 0
	distinct := map[int]bool{}
	for page, nums := range plan.PageRanges {
		if page < 1 || page > pageCount {
			continue
		}
		clean := uniquePositive(nums)
		if len(clean) == 0 {
			continue
		}
		out.PageRanges[page] = clean
		for _, n := range clean {
			distinct[n] = true
			if n > maxNumber {
				maxNumber = n
			}
		}
	}

	for n, ct := range plan.SpecialContentMap {
		if n > 0 && ct != models.ContentText {
			out.SpecialContentMap[n] = ct
		}
	}

	for _, issue := range plan.BoundaryIssues {
		pages := uniquePositive(issue.PagesInvolved)
		kept := pages[:0]
		for _, p := range pages {
			if p <= pageCount {
				kept = append(kept, p)
			}
		}
		if len(kept) == 1 && kept[0] < pageCount {
			kept = append(kept, kept[0]+1)
		}
		if len(kept) < 2 {
			continue
		}
		if issue.QuestionNumber < 0 {
			issue.QuestionNumber = 0
		}
		issue.PagesInvolved = kept
		out.BoundaryIssues = append(out.BoundaryIssues, issue)
	}

	if out.ExpectedQuestionCount <= 0 {
		switch {
		case maxNumber > 0:
			out.ExpectedQuestionCount = max(maxNumber, len(distinct))
		default:
			out.ExpectedQuestionCount = pageCount * avgPerPage
		}
	}
	if len(out.PageRanges) == 0 && out.ExpectedQuestionCount > 0 && pageCount > 0 {
		perPage := (out.ExpectedQuestionCount + pageCount - 1) / pageCount
		for page := 1; page <= pageCount; page++ {
			for n := (page-1)*perPage + 1; n <= page*perPage && n <= out.ExpectedQuestionCount; n++ {
				out.PageRanges[page] = append(out.PageRanges[page], n)
			}
		}
	}
	return out
}

func uniquePositive(nums []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(nums))
	for _, n := range nums {
		if n > 0 && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

func toInts(v any) []int {
	list, ok := v.([]any)
	if !ok {
		if n := toInt(v); n != 0 {
			return []int{n}
		}
		return nil
	}
	out := make([]int, 0, len(list))
	for _, el := range list {
		out = append(out, toInt(el))
	}
	return out
}
