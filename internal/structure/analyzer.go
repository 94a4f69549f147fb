// Package structure produces the document-level extraction plan from low-resolution page renders.
package structure

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/repair"
	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

// PageImage is one encoded low-resolution page.
type PageImage struct {
	Page  int
	Image vision.Image
}

// Hints are facts about the document known without the model.
type Hints struct {
	// ImagePages maps page numbers to embedded image counts.
	ImagePages map[int]int
}

// Options configures an Analyzer.
type Options struct {
	MaxPages            int
	AvgQuestionsPerPage int
}

// Analyzer asks the vision capability for a StructurePlan and falls back to Heuristic.
type Analyzer struct {
	invoker vision.Invoker
	opts    Options
	logger  *slog.Logger
}

func NewAnalyzer(invoker vision.Invoker, opts Options, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AvgQuestionsPerPage <= 0 {
		opts.AvgQuestionsPerPage = 5
	}
	return &Analyzer{invoker: invoker, opts: opts, logger: logger}
}

// Analyze returns the plan for a document of pageCount pages. It never fails: any transport or
// parse problem yields the heuristic plan, so analysis never blocks extraction.
func (a *Analyzer) Analyze(ctx context.Context, pages []PageImage, pageCount int, hints Hints) models.StructurePlan {
	logCtx := a.logger.With("component", "structure", "pageCount", pageCount)
	if pageCount <= 0 {
		pageCount = len(pages)
	}
	fallback := func(reason string, err error) models.StructurePlan {
		logCtx.Warn("Falling back to heuristic structure plan.", "reason", reason, "error", err)
		return Heuristic(pageCount, a.opts.AvgQuestionsPerPage)
	}
	if len(pages) == 0 || a.invoker == nil {
		return fallback("no pages to analyse", nil)
	}

	sampled := Sample(pages, a.opts.MaxPages)
	req := vision.Request{
		Instruction: Instruction(sampled, pageCount, hints),
		JSONOutput:  true,
	}
	for _, p := range sampled {
		req.Images = append(req.Images, p.Image)
	}

	raw, attempts, err := a.invoker.Call(ctx, req, logCtx)
	if err != nil {
		return fallback("structure call failed", err)
	}
	obj, stage, ok := repair.DecodeObject(raw)
	if !ok {
		return fallback("structure response unparseable", nil)
	}

	plan := Sanitize(FromObject(obj), pageCount, a.opts.AvgQuestionsPerPage)
	if len(plan.PageRanges) == 0 {
		return fallback("structure response had no page ranges", nil)
	}
	logCtx.Info("Structure plan produced.",
		"attempts", attempts,
		"repairStage", stage,
		"expectedQuestions", plan.ExpectedQuestionCount,
		"specialQuestions", len(plan.SpecialContentMap),
		"boundaryIssues", len(plan.BoundaryIssues),
		"sampledPages", len(sampled))
	return plan
}

// Sample picks at most maxPages pages spread evenly over the document, always keeping the first
// and last page. maxPages <= 0 keeps everything.
func Sample(pages []PageImage, maxPages int) []PageImage {
	if maxPages <= 0 || len(pages) <= maxPages {
		return pages
	}
	if maxPages == 1 {
		return pages[:1]
	}
	out := make([]PageImage, 0, maxPages)
	step := float64(len(pages)-1) / float64(maxPages-1)
	last := -1
	for i := 0; i < maxPages; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx <= last {
			idx = last + 1
		}
		if idx >= len(pages) {
			break
		}
		out = append(out, pages[idx])
		last = idx
	}
	return out
}

// Instruction renders the analyzer prompt for the sampled pages.
func Instruction(sampled []PageImage, pageCount int, hints Hints) string {
	var b strings.Builder
	b.WriteString(AnalyzerPrompt)
	fmt.Fprintf(&b, "\n\nThe paper has %d pages. ", pageCount)
	nums := make([]string, len(sampled))
	for i, p := range sampled {
		nums[i] = fmt.Sprint(p.Page)
	}
	if len(sampled) < pageCount {
		b.WriteString("Only a sample of pages is attached; ")
	}
	fmt.Fprintf(&b, "Attached images are pages: %s.", strings.Join(nums, ", "))

	if len(hints.ImagePages) > 0 {
		var withImages []int
		for page := range hints.ImagePages {
			withImages = append(withImages, page)
		}
		sort.Ints(withImages)
		parts := make([]string, len(withImages))
		for i, p := range withImages {
			parts[i] = fmt.Sprint(p)
		}
		fmt.Fprintf(&b, "\nPages embedding pictures or diagrams: %s.", strings.Join(parts, ", "))
	}
	return b.String()
}
