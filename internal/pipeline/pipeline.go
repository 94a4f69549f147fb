// Package pipeline drives one exam document through every extraction stage.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/Lllllllleong/examquestionflow/internal/assemble"
	"github.com/Lllllllleong/examquestionflow/internal/chunking"
	"github.com/Lllllllleong/examquestionflow/internal/config"
	"github.com/Lllllllleong/examquestionflow/internal/enhance"
	"github.com/Lllllllleong/examquestionflow/internal/extract"
	"github.com/Lllllllleong/examquestionflow/internal/metrics"
	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/pages"
	"github.com/Lllllllleong/examquestionflow/internal/rank"
	"github.com/Lllllllleong/examquestionflow/internal/reconcile"
	"github.com/Lllllllleong/examquestionflow/internal/rules"
	"github.com/Lllllllleong/examquestionflow/internal/structure"
	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

// Document is an opened source PDF.
type Document interface {
	pages.Pager
	ImageHints() map[int]int
	Close() error
}

// Opener opens the PDF at path. Failures must be *models.FatalInputError.
type Opener func(ctx context.Context, path string, logger *slog.Logger) (Document, error)

// Deps are the collaborators of a Pipeline. Capability or Invoker must be set.
type Deps struct {
	Capability vision.Capability
	// Invoker replaces the rate-limited, retrying caller built around Capability.
	Invoker   vision.Invoker
	Questions QuestionStore
	Assets    AssetStoreFactory
	Metrics   *metrics.Collector
	Open      Opener
}

// Request describes one document run.
type Request struct {
	DocumentID string
	Path       string
	Metadata   models.Metadata
}

type Pipeline struct {
	cfg          *config.Config
	invoker      vision.Invoker
	analyzer     *structure.Analyzer
	planner      *chunking.Planner
	materializer *pages.Materializer
	extractor    *extract.Extractor
	reconciler   *reconcile.Reconciler
	ranker       *rank.Ranker
	assembler    *assemble.Assembler
	questions    QuestionStore
	assets       AssetStoreFactory
	metrics      *metrics.Collector
	open         Opener
	logger       *slog.Logger
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	invoker := deps.Invoker
	if invoker == nil {
		if deps.Capability == nil {
			return nil, fmt.Errorf("pipeline needs a vision capability")
		}
		var observer vision.Observer
		if deps.Metrics != nil {
			observer = deps.Metrics
		}
		invoker = vision.NewCaller(deps.Capability, CallerConfig(cfg), observer, logger)
	}
	open := deps.Open
	if open == nil {
		open = func(ctx context.Context, path string, logger *slog.Logger) (Document, error) {
			return pages.Open(ctx, path, logger)
		}
	}
	ranker := rank.New(rank.DefaultWeights())
	var observer extract.ResultObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	reconcileOpts := reconcile.Options{
		ExpectedChoices:      cfg.ExpectedChoices,
		FixedExpectedChoices: cfg.FixedExpectedChoices,
		OrphanMinConfidence:  cfg.OrphanMinConfidence,
	}
	return &Pipeline{
		cfg:          cfg,
		invoker:      invoker,
		analyzer:     structure.NewAnalyzer(invoker, structure.Options{MaxPages: cfg.MaxAnalyzerPages, AvgQuestionsPerPage: cfg.AvgQuestionsPerPage}, logger),
		planner:      chunking.NewPlanner(PlannerOptions(cfg)),
		materializer: pages.NewMaterializer(pages.Options{JPEGQuality: cfg.JPEGQuality, MaxImageEdge: cfg.MaxImageEdge}),
		extractor:    extract.NewExtractor(invoker, extract.Options{MaxConcurrent: cfg.MaxConcurrentCalls}, observer, logger),
		reconciler:   reconcile.New(rules.Default(), reconcileOpts, logger),
		ranker:       ranker,
		assembler:    assemble.New(ranker, logger),
		questions:    deps.Questions,
		assets:       deps.Assets,
		metrics:      deps.Metrics,
		open:         open,
		logger:       logger,
	}, nil
}

// CallerConfig derives the provider call policy from cfg.
func CallerConfig(cfg *config.Config) vision.CallerConfig {
	retry := vision.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxAttempts
	retry.InitialBackoff = cfg.InitialBackoff
	retry.MaxBackoff = cfg.MaxBackoff
	retry.Multiplier = cfg.BackoffMultiplier
	return vision.CallerConfig{
		MinInterval:     cfg.MinCallInterval,
		CallTimeout:     cfg.CallTimeout,
		Retry:           retry,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}

// PlannerOptions derives the chunk planner options from cfg.
func PlannerOptions(cfg *config.Config) chunking.Options {
	return chunking.Options{
		OverlapTail:         cfg.OverlapTail,
		OverlapHead:         cfg.OverlapHead,
		AvgQuestionsPerPage: cfg.AvgQuestionsPerPage,
		MultiPageWindows:    cfg.MultiPageWindows,
	}
}

// Run processes one document. Only unreadable input, cancellation and persistence failures are
// errors; everything else degrades into flags and the unresolved manifest. On a persistence
// failure the assembled package is still returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.ResultPackage, error) {
	start := time.Now()
	logCtx := p.logger.With("documentId", req.DocumentID)
	logCtx.Info("Starting extraction run.", "path", req.Path)

	doc, err := p.open(ctx, req.Path, logCtx)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	pageCount := doc.PageCount()

	plan, err := p.analyze(ctx, doc, req.Path, logCtx)
	if err != nil {
		return nil, err
	}

	chunks := p.planner.Plan(pageCount, plan)
	rendered, err := p.render(ctx, doc, req.Path, p.cfg.ExtractDPI)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		if err := p.planner.Materialize(&chunks[i], rendered, p.materializer); err != nil {
			logCtx.Warn("Failed to materialize chunk.", "chunkId", chunks[i].ID, "error", err)
		}
	}
	logCtx.Info("Chunks planned.", "chunks", len(chunks), "pageCount", pageCount, "planSource", plan.Source)

	results := p.extractor.ExtractAll(ctx, chunks, &plan)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}

	candidates, _ := p.reconciler.Reconcile(results)
	ranked := p.ranker.Rank(candidates)

	var store AssetStore
	if p.assets != nil {
		store = p.assets(req.DocumentID)
	}
	assets := p.storeCrops(ctx, store, ranked, plan, rendered, logCtx)
	enhancer := enhance.New(store, enhance.Options{IndentUnit: p.cfg.IndentUnit}, logCtx)
	enhanced, _ := enhancer.Enhance(ctx, ranked, assets)

	pkg := p.assembler.Assemble(assemble.Input{
		DocumentID: req.DocumentID,
		PageCount:  pageCount,
		Plan:       plan,
		Records:    enhanced,
		Results:    results,
	})
	p.metrics.ObservePackage(pkg, time.Since(start))

	if p.questions != nil {
		if err := p.questions.UpsertQuestions(ctx, req.DocumentID, req.Metadata, pkg.Questions); err != nil {
			logCtx.Error("Failed to persist questions.", "error", err)
			return pkg, fmt.Errorf("failed to persist questions: %w", err)
		}
	}
	logCtx.Info("Extraction run complete.",
		"questions", len(pkg.Questions),
		"unresolved", len(pkg.Unresolved),
		"duration", time.Since(start).String())
	return pkg, nil
}

// analyze renders low-resolution pages and asks for the structure plan.
func (p *Pipeline) analyze(ctx context.Context, doc Document, path string, logger *slog.Logger) (models.StructurePlan, error) {
	low, err := p.render(ctx, doc, path, p.cfg.AnalyzerDPI)
	if err != nil {
		return models.StructurePlan{}, err
	}
	imgs := make([]structure.PageImage, 0, len(low))
	for n := 1; n <= doc.PageCount(); n++ {
		data, err := p.materializer.Encode(low[n])
		if err != nil {
			logger.Warn("Failed to encode page for structure analysis.", "page", n, "error", err)
			continue
		}
		imgs = append(imgs, structure.PageImage{Page: n, Image: vision.Image{Data: data, MIMEType: pages.MIMEType}})
	}
	return p.analyzer.Analyze(ctx, imgs, doc.PageCount(), structure.Hints{ImagePages: doc.ImageHints()}), nil
}

func (p *Pipeline) render(ctx context.Context, doc Document, path string, dpi int) (map[int]image.Image, error) {
	list, err := p.materializer.RenderAll(ctx, doc, dpi)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rendering cancelled: %w", ctxErr)
		}
		if models.IsFatalInput(err) {
			return nil, err
		}
		return nil, &models.FatalInputError{Path: path, Err: fmt.Errorf("failed to render pages at %d dpi: %w", dpi, err)}
	}
	out := make(map[int]image.Image, len(list))
	for _, pg := range list {
		out[pg.Number] = pg.Image
	}
	return out, nil
}
