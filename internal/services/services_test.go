package services

import (
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

func TestCalculateFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.pdf")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	hash, err := calculateFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)

	_, err = calculateFileHash(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, models.StatusCompleted, finalStatus(&models.ResultPackage{}))
	assert.Equal(t, models.StatusPartial, finalStatus(&models.ResultPackage{Unresolved: []int{4}}))
}

func TestCompletionUpdates(t *testing.T) {
	pkg := &models.ResultPackage{
		PageCount: 3,
		Questions: []models.QuestionRecord{{QuestionNumber: 1}, {QuestionNumber: 2}},
		Report:    models.QualityReport{OverallConfidence: 0.75},
	}
	updates := completionUpdates(pkg, models.StatusCompleted)

	byPath := map[string]interface{}{}
	for _, u := range updates {
		byPath[u.Path] = u.Value
	}
	assert.Equal(t, models.StatusCompleted, byPath["status"])
	assert.Equal(t, firestore.ServerTimestamp, byPath["updatedAt"])
	assert.Equal(t, 3, byPath["pageCount"])
	assert.Equal(t, 2, byPath["questionCount"])
	assert.Equal(t, []int{}, byPath["unresolved"])
	assert.Equal(t, 0.75, byPath["overallConfidence"])
	assert.NotContains(t, byPath, "errorDetails")
}

func TestStatusUpdatesCarryErrorDetails(t *testing.T) {
	updates := statusUpdates(models.StatusFailed, "extraction run failed: boom")
	require.Len(t, updates, 3)
	assert.Equal(t, "errorDetails", updates[2].Path)
	assert.Equal(t, "extraction run failed: boom", updates[2].Value)
}

func TestGCSEventMetadata(t *testing.T) {
	e := GCSEvent{
		Bucket:   "uploads",
		Name:     "2024/midterm/exam.pdf",
		Metadata: map[string]string{"chapter": "3", "material": "networks"},
	}
	assert.Equal(t, models.Metadata{Chapter: "3", Material: "networks", Filename: "exam.pdf"}, e.ExamMetadata())
	assert.Equal(t, models.Metadata{Filename: "exam.pdf"}, GCSEvent{Name: "exam.pdf"}.ExamMetadata())
}

func TestWorkflowArgsAndResponse(t *testing.T) {
	result := &extraction{
		pkg: &models.ResultPackage{
			Questions:  []models.QuestionRecord{{QuestionNumber: 1}},
			Unresolved: []int{2},
			Report:     models.QualityReport{TotalQuestions: 1},
		},
		status:     models.StatusPartial,
		packageURI: "gs://packages/packages/doc-1.json",
		assetURIs:  []string{"gs://assets/assets/doc-1/q0001_choice_1.jpg"},
	}

	args := workflowArgs("doc-1", result)
	assert.Equal(t, models.DeliveryWorkflowArgs{
		DocumentID:    "doc-1",
		QuestionCount: 1,
		Unresolved:    []int{2},
		PackageGCSUri: "gs://packages/packages/doc-1.json",
	}, args)

	resp := newResponse("doc-1", result)
	assert.Equal(t, models.StatusPartial, resp.Status)
	assert.Equal(t, "doc-1", resp.JobID)
	assert.Equal(t, 1, resp.QuestionCount)
	assert.Equal(t, []int{2}, resp.Unresolved)
	assert.Equal(t, 1, resp.Report.TotalQuestions)
	assert.Equal(t, []string{"gs://assets/assets/doc-1/q0001_choice_1.jpg"}, resp.AssetGCSUris)

	empty := workflowArgs("doc-2", &extraction{pkg: &models.ResultPackage{}})
	assert.NotNil(t, empty.Unresolved)
}

func TestValidateRequest(t *testing.T) {
	assert.Error(t, validateRequest(nil))
	assert.Error(t, validateRequest(&models.ExtractQuestionsRequest{GCSUri: "https://example.com/a.pdf"}))
	assert.Error(t, validateRequest(&models.ExtractQuestionsRequest{GCSUri: "gs://bucket-only"}))
	assert.NoError(t, validateRequest(&models.ExtractQuestionsRequest{GCSUri: "gs://uploads/exam.pdf"}))
}
