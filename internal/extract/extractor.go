// Package extract runs the per-chunk vision calls with content-specific instructions and turns
// every response into an ExtractionResult.
package extract

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/repair"
	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

// ResultObserver is notified once per finished chunk.
type ResultObserver interface {
	ObserveResult(res models.ExtractionResult)
}

// Options configures an Extractor.
type Options struct {
	// MaxConcurrent bounds in-flight chunks; the Caller's limiter still spaces the calls.
	MaxConcurrent int
}

// Extractor dispatches chunks to the vision capability.
type Extractor struct {
	invoker  vision.Invoker
	opts     Options
	observer ResultObserver
	logger   *slog.Logger
}

// NewExtractor creates an Extractor. observer may be nil.
func NewExtractor(invoker vision.Invoker, opts Options, observer ResultObserver, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Extractor{invoker: invoker, opts: opts, observer: observer, logger: logger}
}

// ExtractAll extracts every chunk and returns the results in submission order. A failing chunk
// never cancels the others: it yields an empty result with parse status failed.
func (e *Extractor) ExtractAll(ctx context.Context, chunks []models.Chunk, plan *models.StructurePlan) []models.ExtractionResult {
	results := make([]models.ExtractionResult, len(chunks))
	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrent)

	for i := range chunks {
		i := i
		g.Go(func() error {
			var issues []models.BoundaryIssue
			if chunks[i].Kind == models.ChunkBoundaryOverlap {
				issues = plan.IssuesAt(chunks[i].Span.Start)
			}
			results[i] = e.Extract(ctx, chunks[i], issues)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Extract runs one chunk.
func (e *Extractor) Extract(ctx context.Context, c models.Chunk, issues []models.BoundaryIssue) models.ExtractionResult {
	logCtx := e.logger.With("chunkId", c.ID, "contentType", c.ContentType)
	res := models.ExtractionResult{
		ChunkID:     c.ID,
		ChunkKind:   c.Kind,
		Span:        c.Span,
		ContentType: c.ContentType,
		Records:     []models.QuestionRecord{},
	}
	defer func() {
		if e.observer != nil {
			e.observer.ObserveResult(res)
		}
	}()

	fail := func(msg string) models.ExtractionResult {
		res.ParseStatus = models.ParseFailed
		res.RepairStage = models.StageFallback
		res.Error = msg
		return res
	}

	if len(c.Image) == 0 {
		logCtx.Warn("Chunk has no image; skipping extraction.")
		return fail("chunk has no image")
	}
	instruction, err := Instruction(c, issues)
	if err != nil {
		logCtx.Error("Failed to build instruction.", "error", err)
		return fail(err.Error())
	}

	raw, attempts, err := e.invoker.Call(ctx, vision.Request{
		Images:      []vision.Image{{Data: c.Image, MIMEType: c.MIMEType}},
		Instruction: instruction,
		ContentType: c.ContentType,
		JSONOutput:  true,
	}, logCtx)
	res.Attempts = attempts
	if err != nil {
		logCtx.Warn("Extraction call failed; chunk yields no records.", "error", err, "attempts", attempts)
		return fail(err.Error())
	}

	norm := repair.Normalize(raw, repair.SourceOf(c))
	res.RawResponse = raw
	res.ParseStatus = norm.Status
	res.RepairStage = norm.Stage
	res.Records = norm.Records
	if norm.Status != models.ParseOK {
		logCtx.Info("Response needed repair.", "repairStage", norm.Stage, "parseStatus", norm.Status, "records", len(norm.Records))
	}
	return res
}
