package pipeline

import (
	"context"
	"image"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/pages"
)

// cropMargin widens each question band so content near the band edges is not clipped.
const cropMargin = 0.05

type cropJob struct {
	key  AssetKey
	page int
	img  image.Image
}

// storeCrops uploads one crop per page of every image-bearing question and returns the stored
// assets for the placeholder resolver. The crop is the question's share of the page according to
// the plan's page ranges, or the whole page when the plan does not place the question there.
func (p *Pipeline) storeCrops(ctx context.Context, store AssetStore, records []models.QuestionRecord, plan models.StructurePlan, rendered map[int]image.Image, logger *slog.Logger) []models.Asset {
	if store == nil {
		return nil
	}
	var jobs []cropJob
	for _, q := range records {
		if !needsImage(q) {
			continue
		}
		assetType := models.AssetDiagram
		if q.ContentType == models.ContentChoiceImage {
			assetType = models.AssetChoice
		}
		for i, page := range pagesOf(q, plan) {
			img := rendered[page]
			if img == nil {
				continue
			}
			from, to := questionBand(plan, q.QuestionNumber, page)
			jobs = append(jobs, cropJob{
				key:  AssetKey{QuestionNumber: q.QuestionNumber, Type: assetType, Index: i + 1},
				page: page,
				img:  pages.Band(img, from, to),
			})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		assets []models.Asset
	)
	var g errgroup.Group
	g.SetLimit(max(p.cfg.AssetConcurrency, 1))
	for _, job := range jobs {
		g.Go(func() error {
			data, err := p.materializer.Encode(job.img)
			if err != nil {
				logger.Warn("Failed to encode crop.", "asset", job.key.Name(), "error", err)
				return nil
			}
			ref, err := store.Put(ctx, job.key, data, pages.MIMEType)
			if err != nil {
				logger.Warn("Failed to store crop.", "asset", job.key.Name(), "error", err)
				return nil
			}
			mu.Lock()
			assets = append(assets, models.Asset{Key: job.key, Page: job.page, Ref: ref})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(assets, func(i, j int) bool { return assets[i].Ref < assets[j].Ref })
	logger.Info("Question crops stored.", "requested", len(jobs), "stored", len(assets))
	return assets
}

func needsImage(q models.QuestionRecord) bool {
	if q.ContentType.IsImage() || q.Flags.HasImage {
		return true
	}
	if models.HasImagePlaceholder(q.Text) || models.HasImagePlaceholder(q.Passage.Text) || models.HasImagePlaceholder(q.Passage.ImageRef) {
		return true
	}
	for _, ch := range q.Choices {
		if models.HasImagePlaceholder(ch.Content) || models.HasImagePlaceholder(ch.ImageRef) {
			return true
		}
	}
	return false
}

// pagesOf prefers the plan's pages for the question and falls back to the record's page span.
func pagesOf(q models.QuestionRecord, plan models.StructurePlan) []int {
	if planned := plan.PagesOf(q.QuestionNumber); len(planned) > 0 {
		return planned
	}
	var out []int
	for page := q.PageStart; page <= q.PageEnd && page > 0; page++ {
		out = append(out, page)
	}
	return out
}

// questionBand returns the vertical fraction of page occupied by question n, assuming the
// questions listed for the page share it evenly in printed order.
func questionBand(plan models.StructurePlan, n, page int) (from, to float64) {
	nums := append([]int(nil), plan.PageRanges[page]...)
	sort.Ints(nums)
	for i, v := range nums {
		if v == n {
			m := float64(len(nums))
			return float64(i)/m - cropMargin, float64(i+1)/m + cropMargin
		}
	}
	return 0, 1
}
