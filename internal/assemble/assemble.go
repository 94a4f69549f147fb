// Package assemble builds the final result package and its quality report.
package assemble

import (
	"log/slog"
	"math"
	"sort"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/rank"
)

// Input is everything the assembler needs from one run.
type Input struct {
	DocumentID string
	PageCount  int
	Plan       models.StructurePlan
	Records    []models.QuestionRecord
	Results    []models.ExtractionResult
}

type Assembler struct {
	ranker *rank.Ranker
	logger *slog.Logger
}

func New(ranker *rank.Ranker, logger *slog.Logger) *Assembler {
	if ranker == nil {
		ranker = rank.New(rank.DefaultWeights())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{ranker: ranker, logger: logger}
}

// Assemble sorts records by question number, collapses any duplicates that reached it through
// the ranker, and attaches the quality report and the unresolved manifest.
func (a *Assembler) Assemble(in Input) *models.ResultPackage {
	logCtx := a.logger.With("documentId", in.DocumentID)

	questions := in.Records
	if hasDuplicates(questions) {
		logCtx.Warn("Duplicate question numbers reached assembly, collapsing through the ranker.")
		questions = a.ranker.Rank(questions)
	} else {
		questions = append([]models.QuestionRecord(nil), questions...)
		sort.SliceStable(questions, func(i, j int) bool {
			return questions[i].QuestionNumber < questions[j].QuestionNumber
		})
	}
	if questions == nil {
		questions = []models.QuestionRecord{}
	}

	report := buildReport(in.Plan, questions, in.Results)
	unresolved := union(report.IncompleteNumbers, report.MissingNumbers)

	diagnostics := append([]models.ExtractionResult(nil), in.Results...)
	sort.SliceStable(diagnostics, func(i, j int) bool { return diagnostics[i].ChunkID < diagnostics[j].ChunkID })

	logCtx.Info("Result package assembled.",
		"questions", report.TotalQuestions,
		"expected", report.ExpectedQuestions,
		"missing", len(report.MissingNumbers),
		"incomplete", report.IncompleteCount,
		"confidence", report.OverallConfidence)

	return &models.ResultPackage{
		DocumentID:  in.DocumentID,
		PageCount:   in.PageCount,
		Plan:        in.Plan,
		Questions:   questions,
		Report:      report,
		Unresolved:  unresolved,
		Diagnostics: diagnostics,
	}
}

func hasDuplicates(records []models.QuestionRecord) bool {
	seen := map[int]bool{}
	for _, q := range records {
		if seen[q.QuestionNumber] {
			return true
		}
		seen[q.QuestionNumber] = true
	}
	return false
}

func buildReport(plan models.StructurePlan, questions []models.QuestionRecord, results []models.ExtractionResult) models.QualityReport {
	report := models.QualityReport{
		TotalQuestions:    len(questions),
		ExpectedQuestions: plan.ExpectedQuestionCount,
		ParseStatusCounts: map[models.ParseStatus]int{},
		PlanSource:        plan.Source,
		MissingNumbers:    []int{},
		IncompleteNumbers: []int{},
		AutoFixedNumbers:  []int{},
		FailedChunks:      []string{},
	}
	for _, res := range results {
		report.ParseStatusCounts[res.ParseStatus]++
		if res.ParseStatus == models.ParseFailed {
			report.FailedChunks = append(report.FailedChunks, res.ChunkID)
		}
	}
	sort.Strings(report.FailedChunks)

	var confidence float64
	for _, q := range questions {
		if q.Quality.IncompleteChoices {
			report.IncompleteCount++
			report.IncompleteNumbers = append(report.IncompleteNumbers, q.QuestionNumber)
		}
		if q.Quality.CrossPageResolved {
			report.CrossPageResolved++
		}
		if q.Quality.AutoFixed {
			report.AutoFixedCount++
			report.AutoFixedNumbers = append(report.AutoFixedNumbers, q.QuestionNumber)
		}
		if isTable(q) && !q.Quality.TableComplete {
			report.IncompleteTables++
		}
		confidence += questionConfidence(q)
	}

	lo, hi := expectedRange(plan, questions)
	present := map[int]bool{}
	for _, q := range questions {
		present[q.QuestionNumber] = true
	}
	for n := lo; n <= hi; n++ {
		if !present[n] {
			report.MissingNumbers = append(report.MissingNumbers, n)
		}
	}

	if len(questions) > 0 {
		coverage := 1.0
		if span := hi - lo + 1; span > 0 {
			coverage = float64(span-len(report.MissingNumbers)) / float64(span)
		}
		report.OverallConfidence = math.Round(confidence/float64(len(questions))*coverage*1000) / 1000
	}
	return report
}

// expectedRange is the question numbers the document should contain: from the first planned (or
// extracted) number through the expected count, extended to the highest number extracted. A
// heuristic count is only an estimate, so it never extends the range past the highest number
// extracted unless nothing was extracted at all.
func expectedRange(plan models.StructurePlan, questions []models.QuestionRecord) (lo, hi int) {
	planMin, presentMin, presentMax := 0, 0, 0
	for _, nums := range plan.PageRanges {
		for _, n := range nums {
			if n > 0 && (planMin == 0 || n < planMin) {
				planMin = n
			}
		}
	}
	for _, q := range questions {
		if presentMin == 0 || q.QuestionNumber < presentMin {
			presentMin = q.QuestionNumber
		}
		presentMax = max(presentMax, q.QuestionNumber)
	}
	lo = 1
	if planMin > 1 && presentMin > 1 {
		lo = min(planMin, presentMin)
	}
	hi = presentMax
	if plan.ExpectedQuestionCount > 0 && (plan.Source != models.PlanFromHeuristic || presentMax == 0) {
		hi = max(hi, lo+plan.ExpectedQuestionCount-1)
	}
	return lo, hi
}

func questionConfidence(q models.QuestionRecord) float64 {
	c := 1.0
	if q.Quality.IncompleteChoices {
		c -= 0.5
	}
	if isTable(q) && !q.Quality.TableComplete {
		c -= 0.3
	}
	if q.Quality.AutoFixed {
		c -= 0.1
	}
	return max(c, 0)
}

func isTable(q models.QuestionRecord) bool {
	return q.Passage.Kind == models.PassageTable || q.ContentType == models.ContentTable
}

func union(a, b []int) []int {
	seen := map[int]bool{}
	out := []int{}
	for _, list := range [][]int{a, b} {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Ints(out)
	return out
}
