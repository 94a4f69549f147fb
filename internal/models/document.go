package models

import "time"

// Job statuses written to the Firestore document record.
const (
	StatusValidating = "VALIDATING"
	StatusExtracting = "EXTRACTING"
	StatusCompleted  = "COMPLETED"
	StatusPartial    = "PARTIAL"
	StatusFailed     = "FAILED"
)

// DocumentRecord represents the main record for an exam extraction job in Firestore.
// It tracks the overall status and metadata of the file.
type DocumentRecord struct {
	FileHash            string    `firestore:"fileHash,omitempty"`
	OriginalFilename    string    `firestore:"originalFilename,omitempty"`
	Chapter             string    `firestore:"chapter,omitempty"`
	Material            string    `firestore:"material,omitempty"`
	Status              string    `firestore:"status,omitempty"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty"`
	PageCount           int       `firestore:"pageCount,omitempty"`
	QuestionCount       int       `firestore:"questionCount,omitempty"`
	Unresolved          []int     `firestore:"unresolved,omitempty"`
	OverallConfidence   float64   `firestore:"overallConfidence,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time `firestore:"updatedAt,omitempty"`
}

// Metadata is the chapter/material context handed to the persistence collaborator.
type Metadata struct {
	Chapter  string `json:"chapter,omitempty" firestore:"chapter,omitempty"`
	Material string `json:"material,omitempty" firestore:"material,omitempty"`
	Filename string `json:"filename,omitempty" firestore:"filename,omitempty"`
}
