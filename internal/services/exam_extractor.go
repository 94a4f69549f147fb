package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/firestore"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/gcp"
	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// ExamExtractorFunction extracts every question of an exam PDF dropped into the upload bucket and
// hands the result to the delivery workflow.
type ExamExtractorFunction struct {
	*backend
	executionsClient *executions.Client
}

// GCSEvent is the storage.object.v1.finalized payload. Chapter and material travel as custom
// object metadata.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExamMetadata returns the exam context carried on the uploaded object.
func (e GCSEvent) ExamMetadata() models.Metadata {
	return models.Metadata{
		Chapter:  e.Metadata["chapter"],
		Material: e.Metadata["material"],
		Filename: path.Base(e.Name),
	}
}

func NewExamExtractor(ctx context.Context) (*ExamExtractorFunction, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	slog.Info("Exam extractor logic initialized.", "workflowId", cfg.WorkflowID, "model", cfg.VisionModel)
	return &ExamExtractorFunction{backend: b, executionsClient: executionsClient}, nil
}

func (f *ExamExtractorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !strings.EqualFold(filepath.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Skipping.")
		return nil
	}

	tempDir, err := os.MkdirTemp("", "exam-extractor-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, e.Bucket, e.Name, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(sourcePdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	isDuplicate, docID, err := f.isDuplicate(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
		return nil
	}

	meta := e.ExamMetadata()
	docRef, err := f.createInitialDocument(ctx, fileHash, e.Name, meta)
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", docRef.ID)
	logCtx.Info("Created master document in Firestore.")

	result, err := f.runJob(ctx, logCtx, docRef, sourcePdfPath, meta)
	if err != nil {
		return err
	}

	if err := f.triggerWorkflow(ctx, logCtx, docRef, result); err != nil {
		return err
	}
	logCtx.Info("Hand-off to delivery workflow complete.")
	return nil
}

func (f *ExamExtractorFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, result *extraction) error {
	logCtx.Info("Triggering workflow.")
	payloadBytes, err := json.Marshal(workflowArgs(docRef.ID, result))
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to marshal workflow payload", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.cfg.ProjectID, f.cfg.WorkflowLocation, f.cfg.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to trigger workflow execution", err)
	}
	if _, err := docRef.Update(ctx, []firestore.Update{{Path: "workflowExecutionId", Value: exec.GetName()}}); err != nil {
		logCtx.Warn("Failed to record workflow execution id.", "execution", exec.GetName(), "error", err)
	}
	return nil
}

func workflowArgs(docID string, result *extraction) models.DeliveryWorkflowArgs {
	unresolved := result.pkg.Unresolved
	if unresolved == nil {
		unresolved = []int{}
	}
	return models.DeliveryWorkflowArgs{
		DocumentID:    docID,
		QuestionCount: len(result.pkg.Questions),
		Unresolved:    unresolved,
		PackageGCSUri: result.packageURI,
	}
}

// Close releases the cloud clients.
func (f *ExamExtractorFunction) Close() {
	if err := f.executionsClient.Close(); err != nil {
		slog.Warn("Failed to close executions client.", "error", err)
	}
	f.close()
}
