package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

const minAssetScore = 5

// resolveImages replaces every placeholder in rec with an asset reference. It returns how many
// were matched to stored assets and how many fell back to a synthesized key.
func (e *Enhancer) resolveImages(ctx context.Context, rec *models.QuestionRecord, assets []models.Asset, logger *slog.Logger) (resolved, fallback int) {
	resolve := func(token string, kind string, index int) string {
		q, k, ok := models.ParseImagePlaceholder(token)
		if !ok || q == 0 {
			q = rec.QuestionNumber
		}
		if !ok || k == 0 {
			k = index
		}
		if ref, ok := bestAsset(assets, q, k, rec.PageStart, rec.PageEnd); ok {
			resolved++
			return ref
		}
		fallback++
		return e.fallbackRef(ctx, models.AssetKey{QuestionNumber: q, Type: kind, Index: k}, logger)
	}

	for i := range rec.Choices {
		ch := &rec.Choices[i]
		if models.HasImagePlaceholder(ch.ImageRef) {
			ch.ImageRef = resolve(ch.ImageRef, models.AssetChoice, ch.Marker)
		}
		if models.HasImagePlaceholder(ch.Content) {
			var first string
			ch.Content = models.ImagePlaceholderRe.ReplaceAllStringFunc(ch.Content, func(token string) string {
				ref := resolve(token, models.AssetChoice, ch.Marker)
				if ch.ImageRef == "" && first == "" {
					first = ref
					return ""
				}
				return ref
			})
			if ch.ImageRef == "" {
				ch.ImageRef = first
			}
			ch.Content = strings.TrimSpace(ch.Content)
		}
		if ch.ImageRef != "" {
			rec.Flags.HasImage = true
		}
	}

	n := 0
	inline := func(s string) string {
		return models.ImagePlaceholderRe.ReplaceAllStringFunc(s, func(token string) string {
			n++
			rec.Flags.HasImage = true
			return resolve(token, models.AssetDiagram, n)
		})
	}
	rec.Text = inline(rec.Text)
	rec.Passage.Text = inline(rec.Passage.Text)
	if models.HasImagePlaceholder(rec.Passage.ImageRef) {
		rec.Passage.ImageRef = inline(rec.Passage.ImageRef)
	}
	return resolved, fallback
}

// bestAsset scores stored assets against a placeholder: direct (question, index) correspondence,
// then positional proximity of the index, then whether the asset's page lies within the record.
func bestAsset(assets []models.Asset, q, k, pageStart, pageEnd int) (string, bool) {
	type scored struct {
		ref   string
		score int
	}
	var candidates []scored
	for _, a := range assets {
		if a.Ref == "" {
			continue
		}
		score := 0
		if a.Key.QuestionNumber == q {
			score += 5
			if a.Key.Index == k {
				score += 10
			} else if d := abs(a.Key.Index - k); d < 3 {
				score += 3 - d
			}
		}
		if a.Page >= pageStart && a.Page <= pageEnd {
			score += 2
		}
		if score >= minAssetScore {
			candidates = append(candidates, scored{ref: a.Ref, score: score})
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].ref < candidates[j].ref
	})
	return candidates[0].ref, true
}

// FallbackKey is the deterministic asset name used when no stored crop matches.
func FallbackKey(key models.AssetKey) string {
	return fmt.Sprintf("q%d_%s%d", key.QuestionNumber, key.Type, key.Index)
}

func (e *Enhancer) fallbackRef(ctx context.Context, key models.AssetKey, logger *slog.Logger) string {
	ref := "asset://" + FallbackKey(key)
	if e.registrar == nil {
		return ref
	}
	path, err := e.registrar.Put(ctx, key, nil, "")
	if err != nil || path == "" {
		logger.Warn("Failed to register fallback asset key, using synthesized reference.", "key", FallbackKey(key), "error", err)
		return ref
	}
	return path
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
