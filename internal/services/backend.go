package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/gcp"
	"github.com/Lllllllleong/examquestionflow/internal/metrics"
	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/pipeline"
)

// backend bundles the clients shared by the extraction functions.
type backend struct {
	cfg             *config.Config
	storageClient   *storage.Client
	firestoreClient *firestore.Client
	vertexClient    *gcp.VertexClient
	assets          *gcp.GCSAssetStore
	pipeline        *pipeline.Pipeline
}

func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if err := cfg.RequireCloud(); err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, gcp.VertexConfig{
		ProjectID:       cfg.ProjectID,
		Region:          cfg.VertexAIRegion,
		Model:           cfg.VisionModel,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	deps := pipeline.Deps{
		Capability: vertexClient,
		Questions:  gcp.NewFirestoreQuestionStore(firestoreClient, cfg.CollectionName),
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
	}
	var assets *gcp.GCSAssetStore
	if cfg.AssetBucket != "" {
		assets = gcp.NewGCSAssetStore(storageClient, cfg.AssetBucket)
		deps.Assets = func(docID string) pipeline.AssetStore { return assets.ForDocument(docID) }
	}
	p, err := pipeline.New(cfg, deps, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	return &backend{
		cfg:             cfg,
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		vertexClient:    vertexClient,
		assets:          assets,
		pipeline:        p,
	}, nil
}

// extraction is the outcome of one pipeline run handed back to the callers.
type extraction struct {
	pkg        *models.ResultPackage
	status     string
	packageURI string
	assetURIs  []string
}

// runJob moves docRef through EXTRACTING into COMPLETED or PARTIAL. Any failure marks it FAILED.
func (b *backend) runJob(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, sourcePath string, meta models.Metadata) (*extraction, error) {
	if err := b.updateStatus(ctx, docRef, models.StatusExtracting, ""); err != nil {
		return nil, b.handleError(ctx, logCtx, docRef, "failed to update status to EXTRACTING", err)
	}

	pkg, err := b.pipeline.Run(ctx, pipeline.Request{DocumentID: docRef.ID, Path: sourcePath, Metadata: meta})
	if err != nil {
		return nil, b.handleError(ctx, logCtx, docRef, "extraction run failed", err)
	}

	var packageURI string
	if b.cfg.PackageBucket != "" {
		packageURI, err = gcp.SavePackage(ctx, b.storageClient, b.cfg.PackageBucket, pkg)
		if err != nil {
			return nil, b.handleError(ctx, logCtx, docRef, "failed to archive result package", err)
		}
	}

	var assetURIs []string
	if b.assets != nil {
		assetURIs, err = b.assets.List(ctx, docRef.ID)
		if err != nil {
			logCtx.Warn("Failed to list stored assets.", "error", err)
		}
	}

	status := finalStatus(pkg)
	if _, err := docRef.Update(ctx, completionUpdates(pkg, status)); err != nil {
		return nil, b.handleError(ctx, logCtx, docRef, "failed to record extraction outcome", err)
	}
	logCtx.Info("Extraction job finished.",
		"status", status,
		"questionCount", len(pkg.Questions),
		"unresolved", len(pkg.Unresolved),
		"confidence", pkg.Report.OverallConfidence,
		"assets", len(assetURIs))
	return &extraction{pkg: pkg, status: status, packageURI: packageURI, assetURIs: assetURIs}, nil
}

func (b *backend) isDuplicate(ctx context.Context, fileHash string) (bool, string, error) {
	docs, err := b.firestoreClient.Collection(b.cfg.CollectionName).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return true, docs[0].Ref.ID, nil
	}
	return false, "", nil
}

func (b *backend) createInitialDocument(ctx context.Context, fileHash, filename string, meta models.Metadata) (*firestore.DocumentRef, error) {
	now := time.Now()
	newDoc := models.DocumentRecord{
		FileHash:         fileHash,
		OriginalFilename: filename,
		Chapter:          meta.Chapter,
		Material:         meta.Material,
		Status:           models.StatusValidating,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	docRef, _, err := b.firestoreClient.Collection(b.cfg.CollectionName).Add(ctx, newDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to create master document: %w", err)
	}
	return docRef, nil
}

func (b *backend) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := b.updateStatus(ctx, docRef, models.StatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (b *backend) updateStatus(ctx context.Context, docRef *firestore.DocumentRef, status, errDetails string) error {
	_, err := docRef.Update(ctx, statusUpdates(status, errDetails))
	return err
}

func (b *backend) close() {
	if err := b.vertexClient.Close(); err != nil {
		slog.Warn("Failed to close vertex client.", "error", err)
	}
	if err := b.storageClient.Close(); err != nil {
		slog.Warn("Failed to close storage client.", "error", err)
	}
	if err := b.firestoreClient.Close(); err != nil {
		slog.Warn("Failed to close firestore client.", "error", err)
	}
}

func statusUpdates(status, errDetails string) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	return updates
}

// finalStatus is PARTIAL whenever some question number could not be fully recovered.
func finalStatus(pkg *models.ResultPackage) string {
	if len(pkg.Unresolved) > 0 {
		return models.StatusPartial
	}
	return models.StatusCompleted
}

func completionUpdates(pkg *models.ResultPackage, status string) []firestore.Update {
	unresolved := pkg.Unresolved
	if unresolved == nil {
		unresolved = []int{}
	}
	updates := statusUpdates(status, "")
	return append(updates,
		firestore.Update{Path: "pageCount", Value: pkg.PageCount},
		firestore.Update{Path: "questionCount", Value: len(pkg.Questions)},
		firestore.Update{Path: "unresolved", Value: unresolved},
		firestore.Update{Path: "overallConfidence", Value: pkg.Report.OverallConfidence},
		firestore.Update{Path: "structurePlan", Value: pkg.Plan},
	)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
