package models

// These structs define the JSON payloads for HTTP requests and responses
// between the Cloud Workflow and the extraction Cloud Functions.

// ExtractQuestionsRequest is the input for the extract-questions function.
type ExtractQuestionsRequest struct {
	GCSUri      string `json:"gcsUri"`
	Chapter     string `json:"chapter,omitempty"`
	Material    string `json:"material,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ExtractQuestionsResponse is the output of the extract-questions function. JobID is the Firestore
// document ID; the full package is archived at PackageGCSUri.
type ExtractQuestionsResponse struct {
	Status        string        `json:"status"`
	JobID         string        `json:"jobId"`
	QuestionCount int           `json:"questionCount"`
	Unresolved    []int         `json:"unresolvedQuestionNumbers"`
	Report        QualityReport `json:"qualityReport"`
	PackageGCSUri string        `json:"packageGcsUri,omitempty"`
	AssetGCSUris  []string      `json:"assetGcsUris,omitempty"`
}

// DeliveryWorkflowArgs is the argument of the delivery workflow execution triggered after assembly.
type DeliveryWorkflowArgs struct {
	DocumentID    string `json:"documentId"`
	QuestionCount int    `json:"questionCount"`
	Unresolved    []int  `json:"unresolved"`
	PackageGCSUri string `json:"packageGcsUri"`
}
