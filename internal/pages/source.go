// Package pages validates exam PDFs and turns their pages into images the vision capability can read.
package pages

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Pager renders single pages of an opened document. Page numbers are 1-based.
type Pager interface {
	PageCount() int
	Render(ctx context.Context, page, dpi int) (image.Image, error)
}

// Source is a validated PDF opened for rendering.
type Source struct {
	Path string
	// ImagePages maps a page number to the number of embedded image objects on it.
	ImagePages map[int]int

	pageCount int
	workDir   string
	mu        sync.Mutex
	doc       *fitz.Document
}

// Open validates and optimizes the PDF at path and opens it for rendering. Any failure is a
// *models.FatalInputError: nothing downstream can run without pages.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logCtx := logger.With("path", path)

	if _, err := os.Stat(path); err != nil {
		return nil, &models.FatalInputError{Path: path, Err: err}
	}
	workDir, err := os.MkdirTemp("", "examflow-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	optimized := filepath.Join(workDir, "optimized.pdf")
	if err := optimizePDF(path, optimized); err != nil {
		os.RemoveAll(workDir)
		return nil, &models.FatalInputError{Path: path, Err: fmt.Errorf("failed to validate/optimize PDF: %w", err)}
	}

	pageCount, imagePages, err := inspect(optimized)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, &models.FatalInputError{Path: path, Err: err}
	}
	if pageCount == 0 {
		os.RemoveAll(workDir)
		return nil, &models.FatalInputError{Path: path, Err: errors.New("document has no pages")}
	}
	if err := ctx.Err(); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	doc, err := fitz.New(optimized)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, &models.FatalInputError{Path: path, Err: fmt.Errorf("failed to open PDF for rendering: %w", err)}
	}
	if n := doc.NumPage(); n != pageCount {
		logCtx.Warn("Renderer and validator disagree on page count.", "validator", pageCount, "renderer", n)
		if n < pageCount {
			pageCount = n
		}
	}
	logCtx.Info("PDF validated and opened.", "pageCount", pageCount, "pagesWithImages", len(imagePages))
	return &Source{Path: path, ImagePages: imagePages, pageCount: pageCount, workDir: workDir, doc: doc}, nil
}

// PageCount implements Pager.
func (s *Source) PageCount() int { return s.pageCount }

// ImageHints returns the number of embedded image streams per page, for pages that have any.
func (s *Source) ImageHints() map[int]int { return s.ImagePages }

// Render rasterizes one page at dpi.
func (s *Source) Render(ctx context.Context, page, dpi int) (image.Image, error) {
	if page < 1 || page > s.pageCount {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, s.pageCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, err := s.doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d at %d dpi: %w", page, dpi, err)
	}
	return img, nil
}

// Close releases the renderer and removes the optimized copy.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.doc != nil {
		err = s.doc.Close()
		s.doc = nil
	}
	if s.workDir != "" {
		if rmErr := os.RemoveAll(s.workDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

// inspect reads the page count and the pages that embed image streams.
func inspect(path string) (int, map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	imagePages := map[int]int{}
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if objNrs := pdfcpu.ImageObjNrs(ctx, pageNr); len(objNrs) > 0 {
				imagePages[pageNr] = len(objNrs)
			}
		}
	}
	return ctx.PageCount, imagePages, nil
}
