package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/gcp"
	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// StatusDuplicate is returned when the PDF was already extracted under another job.
const StatusDuplicate = "DUPLICATE"

// QuestionExtractorFunction serves synchronous extraction requests from the workflow.
type QuestionExtractorFunction struct {
	*backend
}

// NewQuestionExtractor creates a new QuestionExtractorFunction instance.
func NewQuestionExtractor(ctx context.Context) (*QuestionExtractorFunction, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Question extractor logic initialized.", "model", cfg.VisionModel)
	return &QuestionExtractorFunction{backend: b}, nil
}

// Process extracts the questions of the PDF at req.GCSUri. The Firestore document ID doubles as the
// job ID.
func (f *QuestionExtractorFunction) Process(ctx context.Context, req *models.ExtractQuestionsRequest) (*models.ExtractQuestionsResponse, error) {
	logCtx := slog.With("gcsUri", req.GCSUri, "executionId", req.ExecutionID)
	if err := validateRequest(req); err != nil {
		logCtx.Error("Rejected extraction request", "error", err)
		return nil, err
	}
	bucket, object, _ := gcp.ParseGCSURI(req.GCSUri)
	logCtx.Info("Starting question extraction.")

	tempDir, err := os.MkdirTemp("", "extract-questions-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, bucket, object, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return nil, err
	}
	fileHash, err := calculateFileHash(sourcePdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	isDuplicate, docID, err := f.isDuplicate(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Returning existing job.", "existingDocId", docID)
		return &models.ExtractQuestionsResponse{Status: StatusDuplicate, JobID: docID, Unresolved: []int{}}, nil
	}

	meta := models.Metadata{Chapter: req.Chapter, Material: req.Material, Filename: path.Base(object)}
	docRef, err := f.createInitialDocument(ctx, fileHash, object, meta)
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("documentId", docRef.ID)

	result, err := f.runJob(ctx, logCtx, docRef, sourcePdfPath, meta)
	if err != nil {
		return nil, err
	}
	return newResponse(docRef.ID, result), nil
}

func validateRequest(req *models.ExtractQuestionsRequest) error {
	if req == nil {
		return fmt.Errorf("empty extraction request")
	}
	if _, _, err := gcp.ParseGCSURI(req.GCSUri); err != nil {
		return fmt.Errorf("invalid gcsUri: %w", err)
	}
	return nil
}

func newResponse(jobID string, result *extraction) *models.ExtractQuestionsResponse {
	unresolved := result.pkg.Unresolved
	if unresolved == nil {
		unresolved = []int{}
	}
	return &models.ExtractQuestionsResponse{
		Status:        result.status,
		JobID:         jobID,
		QuestionCount: len(result.pkg.Questions),
		Unresolved:    unresolved,
		Report:        result.pkg.Report,
		PackageGCSUri: result.packageURI,
		AssetGCSUris:  result.assetURIs,
	}
}
