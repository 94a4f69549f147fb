package models

// ParseStatus is the repair outcome attached to each raw extraction response.
type ParseStatus string

const (
	ParseOK      ParseStatus = "ok"
	ParseFixed   ParseStatus = "fixed"
	ParsePartial ParseStatus = "partial"
	ParseFailed  ParseStatus = "failed"
)

// RepairStage names the rung of the repair ladder that produced the records.
type RepairStage string

const (
	StageDirect      RepairStage = "direct"
	StageDelimiters  RepairStage = "delimiter_strip"
	StageCommonFixes RepairStage = "common_error_repair"
	StageSalvage     RepairStage = "partial_salvage"
	StageFallback    RepairStage = "terminal_fallback"
)

// ExtractionResult is retained per chunk for diagnostics. A failed result still carries a valid,
// empty Records slice.
type ExtractionResult struct {
	ChunkID     string           `json:"chunkId"`
	ChunkKind   ChunkKind        `json:"chunkKind"`
	Span        PageSpan         `json:"pageSpan"`
	ContentType ContentType      `json:"contentType"`
	RawResponse string           `json:"rawResponse"`
	ParseStatus ParseStatus      `json:"parseStatus"`
	RepairStage RepairStage      `json:"repairStage"`
	Attempts    int              `json:"attempts"`
	Error       string           `json:"error,omitempty"`
	Records     []QuestionRecord `json:"-"`
}

// QualityReport summarizes the document-level outcome.
type QualityReport struct {
	TotalQuestions    int                 `json:"totalQuestions"`
	ExpectedQuestions int                 `json:"expectedQuestions"`
	IncompleteCount   int                 `json:"incompleteCount"`
	CrossPageResolved int                 `json:"crossPageResolvedCount"`
	AutoFixedCount    int                 `json:"autoFixedCount"`
	IncompleteTables  int                 `json:"incompleteTableCount"`
	MissingNumbers    []int               `json:"missingNumbers"`
	IncompleteNumbers []int               `json:"incompleteNumbers"`
	AutoFixedNumbers  []int               `json:"autoFixedNumbers"`
	ParseStatusCounts map[ParseStatus]int `json:"parseStatusCounts"`
	FailedChunks      []string            `json:"failedChunks"`
	PlanSource        PlanSource          `json:"planSource"`
	OverallConfidence float64             `json:"overallConfidence"`
}

// ResultPackage is the final output of one pipeline run.
type ResultPackage struct {
	DocumentID  string             `json:"documentId"`
	PageCount   int                `json:"pageCount"`
	Plan        StructurePlan      `json:"structurePlan"`
	Questions   []QuestionRecord   `json:"questions"`
	Report      QualityReport      `json:"qualityReport"`
	Unresolved  []int              `json:"unresolvedQuestionNumbers"`
	Diagnostics []ExtractionResult `json:"diagnostics"`
}
