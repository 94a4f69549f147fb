// Package enhance runs the post-processing passes over ranked question records: image placeholder
// resolution, table validation, code re-indentation and a final choice sequence check.
package enhance

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// AssetRegistrar stores (or reserves, when data is nil) an asset and returns its reference.
type AssetRegistrar interface {
	Put(ctx context.Context, key models.AssetKey, data []byte, contentType string) (string, error)
}

type Options struct {
	// IndentUnit is written once per bracket depth when code is re-indented.
	IndentUnit string
}

// Stats counts what the passes changed.
type Stats struct {
	PlaceholdersResolved int
	PlaceholdersFallback int
	TablesIncomplete     int
	TablesPadded         int
	CodeReindented       int
	ChoiceGaps           int
}

type Enhancer struct {
	registrar AssetRegistrar
	opts      Options
	logger    *slog.Logger
}

func New(registrar AssetRegistrar, opts Options, logger *slog.Logger) *Enhancer {
	if opts.IndentUnit == "" {
		opts.IndentUnit = "    "
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{registrar: registrar, opts: opts, logger: logger}
}

// Enhance returns enhanced copies of records. assets are the crops stored for this document.
// Registrar failures are logged; they never leave a placeholder behind.
func (e *Enhancer) Enhance(ctx context.Context, records []models.QuestionRecord, assets []models.Asset) ([]models.QuestionRecord, Stats) {
	var stats Stats
	out := make([]models.QuestionRecord, len(records))
	for i, rec := range records {
		rec = rec.Clone()
		logCtx := e.logger.With("questionNumber", rec.QuestionNumber)

		resolved, fallback := e.resolveImages(ctx, &rec, assets, logCtx)
		stats.PlaceholdersResolved += resolved
		stats.PlaceholdersFallback += fallback

		complete, padded := ValidateTable(&rec)
		if !complete {
			stats.TablesIncomplete++
		}
		if padded {
			stats.TablesPadded++
		}
		if RestoreIndentation(&rec, e.opts.IndentUnit) {
			stats.CodeReindented++
		}
		if !ValidateChoices(&rec) {
			stats.ChoiceGaps++
		}
		out[i] = rec
	}
	e.logger.Info("Post-processing complete.",
		"records", len(out),
		"placeholdersResolved", stats.PlaceholdersResolved,
		"placeholdersFallback", stats.PlaceholdersFallback,
		"tablesIncomplete", stats.TablesIncomplete,
		"codeReindented", stats.CodeReindented,
		"choiceGaps", stats.ChoiceGaps)
	return out, stats
}

// ValidateChoices flags gaps or a sequence that does not start at the first marker. It returns
// false when the record is (or already was) flagged incomplete.
func ValidateChoices(rec *models.QuestionRecord) bool {
	if len(rec.Choices) > 0 && (rec.Choices[0].Marker != 1 || !rec.ChoicesContiguous()) {
		rec.Quality.IncompleteChoices = true
	}
	return !rec.Quality.IncompleteChoices
}
