// Command examflow runs the exam extraction pipeline on a local PDF and writes the result package
// as JSON.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/spf13/pflag"

	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/gcp"
	"github.com/Lllllllleong/examquestionflow/internal/metrics"
	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "examflow:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("examflow", pflag.ContinueOnError)
	config.DefineFlags(fs)
	pdfPath := fs.String("pdf", "", "Path of the exam PDF to extract")
	outPath := fs.String("out", "", "Write the result package here instead of stdout")
	docID := fs.String("doc-id", "", "Document ID (defaults to a prefix of the file hash)")
	chapter := fs.String("chapter", "", "Chapter the exam belongs to")
	material := fs.String("material", "", "Material the exam belongs to")
	assetsDir := fs.String("assets-dir", "", "Write question crops into this directory")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *pdfPath == "" {
		return fmt.Errorf("--pdf is required")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	if err := cfg.RequireCloud(); err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *docID == "" {
		*docID, err = hashPrefix(*pdfPath)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", *pdfPath, err)
		}
	}

	vertexClient, err := gcp.NewVertexClient(ctx, gcp.VertexConfig{
		ProjectID:       cfg.ProjectID,
		Region:          cfg.VertexAIRegion,
		Model:           cfg.VisionModel,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}
	defer vertexClient.Close()

	questions := pipeline.NewMemoryQuestionStore()
	deps := pipeline.Deps{
		Capability: vertexClient,
		Questions:  questions,
		Metrics:    metrics.New(nil),
	}

	memAssets := pipeline.NewMemoryAssetStore()
	deps.Assets = memAssets.ForDocument
	if cfg.AssetBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create Storage client: %w", err)
		}
		defer storageClient.Close()
		gcsAssets := gcp.NewGCSAssetStore(storageClient, cfg.AssetBucket)
		deps.Assets = func(id string) pipeline.AssetStore { return gcsAssets.ForDocument(id) }
	}

	p, err := pipeline.New(cfg, deps, logger)
	if err != nil {
		return err
	}
	pkg, err := p.Run(ctx, pipeline.Request{
		DocumentID: *docID,
		Path:       *pdfPath,
		Metadata:   models.Metadata{Chapter: *chapter, Material: *material, Filename: filepath.Base(*pdfPath)},
	})
	if err != nil {
		return err
	}

	if *assetsDir != "" {
		if err := writeAssets(*assetsDir, memAssets); err != nil {
			return err
		}
	}
	return writePackage(*outPath, pkg)
}

func hashPrefix(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func writeAssets(dir string, store *pipeline.MemoryAssetStore) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create assets dir: %w", err)
	}
	for _, ref := range store.Refs() {
		data, ok := store.Object(ref)
		if !ok || len(data) == 0 {
			continue
		}
		name := filepath.Base(strings.TrimPrefix(ref, "mem://")) + ".jpg"
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write asset %s: %w", ref, err)
		}
	}
	return nil
}

func writePackage(path string, pkg *models.ResultPackage) error {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result package: %w", err)
	}
	if path == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("Result package written.", "path", path, "questions", len(pkg.Questions), "unresolved", len(pkg.Unresolved))
	return nil
}
