// Package reconcile stitches question content that a page break split across chunks: orphan choice
// blocks are reattached to the question they continue and table or code fragments are merged.
package reconcile

import (
	"log/slog"
	"sort"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/rules"
)

// Options tunes the reassembly heuristics.
type Options struct {
	// ExpectedChoices is the minimum choice count of a complete multiple-choice question. The
	// most common complete count observed in the document raises it.
	ExpectedChoices int
	// OrphanMinConfidence is the classifier confidence an orphan verdict needs.
	OrphanMinConfidence float64
	// FixedExpectedChoices keeps ExpectedChoices as is instead of raising it to the document's
	// most common count.
	FixedExpectedChoices bool
}

// Stats summarises one reconciliation pass.
type Stats struct {
	Orphans           int
	OrphansAttached   int
	TablesMerged      int
	CodeMerged        int
	DroppedUnnumbered int
}

// Reconciler merges per-chunk records into per-question candidates.
type Reconciler struct {
	engine *rules.Engine
	opts   Options
	logger *slog.Logger
}

func New(engine *rules.Engine, opts Options, logger *slog.Logger) *Reconciler {
	if engine == nil {
		engine = rules.Default()
	}
	if opts.ExpectedChoices <= 0 {
		opts.ExpectedChoices = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{engine: engine, opts: opts, logger: logger}
}

type entry struct {
	rec     models.QuestionRecord
	chunkID string
	kind    models.ChunkKind
	span    models.PageSpan
	pos     int
	orphan  bool
	used    bool
}

// Reconcile returns every numbered candidate record after orphan reattachment and fragment
// merging. Several candidates may share a question number; the ranker picks among them. The input
// order of results does not affect the output.
func (r *Reconciler) Reconcile(results []models.ExtractionResult) ([]models.QuestionRecord, Stats) {
	var stats Stats
	entries := r.flatten(results)

	var candidates, orphans []*entry
	for _, e := range entries {
		v := r.engine.ClassifyRecord(e.rec)
		switch {
		case v.Label == rules.LabelEmpty:
		case v.Label == rules.LabelOrphanChoices && v.Confidence >= r.opts.OrphanMinConfidence && len(e.rec.Choices) > 0:
			e.orphan = true
			orphans = append(orphans, e)
		case e.rec.QuestionNumber > 0:
			candidates = append(candidates, e)
		default:
			stats.DroppedUnnumbered++
		}
	}
	stats.Orphans = len(orphans)

	stats.TablesMerged, stats.CodeMerged = mergeFragments(candidates)

	expected := r.expectedChoices(candidates)
	layout := pageLayout(candidates)
	for _, c := range candidates {
		if !needsChoices(c.rec, expected) {
			continue
		}
		if o := r.bestOrphan(c, orphans, expected, layout); o != nil {
			attach(c, o)
			stats.OrphansAttached++
		}
	}

	// A numbered continuation nobody claimed is all that survives of its question.
	present := map[int]bool{}
	for _, c := range candidates {
		present[c.rec.QuestionNumber] = true
	}
	for _, o := range orphans {
		if !o.used && o.rec.QuestionNumber > 0 && !present[o.rec.QuestionNumber] {
			candidates = append(candidates, o)
		}
	}

	out := make([]models.QuestionRecord, 0, len(candidates))
	for _, c := range candidates {
		rec := c.rec
		if needsChoices(rec, expected) {
			rec.Quality.IncompleteChoices = true
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QuestionNumber != out[j].QuestionNumber {
			return out[i].QuestionNumber < out[j].QuestionNumber
		}
		return out[i].Provenance[0] < out[j].Provenance[0]
	})

	r.logger.Info("Reconciliation complete.",
		"candidates", len(out),
		"orphans", stats.Orphans,
		"orphansAttached", stats.OrphansAttached,
		"tablesMerged", stats.TablesMerged,
		"codeMerged", stats.CodeMerged,
		"droppedUnnumbered", stats.DroppedUnnumbered,
		"expectedChoices", expected)
	return out, stats
}

// flatten copies every record and orders them by (chunk id, position) so that the rest of the
// pass never depends on the order results arrived in.
func (r *Reconciler) flatten(results []models.ExtractionResult) []*entry {
	var entries []*entry
	for _, res := range results {
		for i, rec := range res.Records {
			rec = rec.Clone()
			if len(rec.Provenance) == 0 {
				rec.Provenance = []string{res.ChunkID}
			}
			if rec.SourceKind == "" {
				rec.SourceKind = res.ChunkKind
			}
			if rec.PageStart == 0 {
				rec.PageStart, rec.PageEnd = res.Span.Start, res.Span.End
			}
			entries = append(entries, &entry{rec: rec, chunkID: res.ChunkID, kind: res.ChunkKind, span: res.Span, pos: i})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].chunkID != entries[j].chunkID {
			return entries[i].chunkID < entries[j].chunkID
		}
		return entries[i].pos < entries[j].pos
	})
	return entries
}

// expectedChoices is the configured minimum raised to the most common choice count among records
// whose choices run cleanly from 1.
func (r *Reconciler) expectedChoices(candidates []*entry) int {
	if r.opts.FixedExpectedChoices {
		return r.opts.ExpectedChoices
	}
	counts := map[int]int{}
	for _, c := range candidates {
		ch := c.rec.Choices
		if len(ch) >= 2 && ch[0].Marker == 1 && c.rec.ChoicesContiguous() {
			counts[len(ch)]++
		}
	}
	mode, best := 0, 0
	for n, k := range counts {
		if k > best || (k == best && n > mode) {
			mode, best = n, k
		}
	}
	return max(r.opts.ExpectedChoices, mode)
}

func needsChoices(rec models.QuestionRecord, expected int) bool {
	if len(rec.Choices) == 0 {
		return false
	}
	return rec.Choices[0].Marker != 1 || !rec.ChoicesContiguous() || rec.MaxMarker() < expected
}

// layout is where numbered questions sit on single pages.
type layout struct {
	// lastOnPage is the highest question number ending on each page.
	lastOnPage map[int]int
	// firstPos is the position of the first numbered question in each single-page chunk.
	firstPos map[string]int
}

func pageLayout(candidates []*entry) layout {
	l := layout{lastOnPage: map[int]int{}, firstPos: map[string]int{}}
	for _, c := range candidates {
		if c.kind != models.ChunkSinglePage {
			continue
		}
		if n := c.rec.QuestionNumber; n > l.lastOnPage[c.rec.PageEnd] {
			l.lastOnPage[c.rec.PageEnd] = n
		}
		if pos, ok := l.firstPos[c.chunkID]; !ok || c.pos < pos {
			l.firstPos[c.chunkID] = c.pos
		}
	}
	return l
}

// follows reports whether orphan o sits right after the end of c: in the overlap or window chunk
// that starts on c's last page, below c on the same page, or at the top of the next page. An
// unnumbered block on the next page must come before that page's first question.
func follows(c, o *entry, l layout) bool {
	last := c.rec.PageEnd
	if o.kind != models.ChunkSinglePage {
		return o.span.Start == last
	}
	switch o.span.Start {
	case last:
		return o.chunkID == c.chunkID && o.pos > c.pos
	case last + 1:
		if o.rec.QuestionNumber > 0 {
			return true
		}
		first, ok := l.firstPos[o.chunkID]
		return !ok || o.pos < first
	}
	return false
}

// bestOrphan finds the orphan block that continues c: it must follow c's last page, continue the
// marker sequence (or carry c's number), and an unnumbered orphan may only continue the last
// question of that page.
func (r *Reconciler) bestOrphan(c *entry, orphans []*entry, expected int, l layout) *entry {
	last := c.rec.PageEnd
	next := c.rec.MaxMarker() + 1
	var best *entry
	bestScore := -1
	for _, o := range orphans {
		if o.used || !follows(c, o, l) {
			continue
		}
		hinted := o.rec.QuestionNumber > 0
		if hinted && o.rec.QuestionNumber != c.rec.QuestionNumber {
			continue
		}
		if !hinted {
			if n, ok := l.lastOnPage[last]; ok && n != c.rec.QuestionNumber {
				continue
			}
		}
		first := o.rec.Choices[0].Marker
		if !hinted && first != next {
			continue
		}
		if hinted && first > next {
			continue
		}

		score := o.kind.Rank() * 10
		if hinted {
			score += 100
		}
		if next+len(o.rec.Choices)-1 >= expected {
			score += 5
		}
		score += len(o.rec.Choices)
		if score > bestScore || (score == bestScore && o.chunkID < best.chunkID) {
			best, bestScore = o, score
		}
	}
	return best
}

// attach appends the orphan's choices to c, renumbered to continue c's sequence. Choices the
// record already has (same marker, hinted orphans only) are skipped.
func attach(c, o *entry) {
	next := c.rec.MaxMarker() + 1
	have := map[int]bool{}
	for _, ch := range c.rec.Choices {
		have[ch.Marker] = true
	}
	for _, ch := range o.rec.Choices {
		if ch.Marker < next && have[ch.Marker] {
			continue
		}
		ch.Marker = next
		ch.Label = rules.CircledLabel(next)
		c.rec.Choices = append(c.rec.Choices, ch)
		next++
	}
	c.rec.Quality.CrossPageResolved = true
	c.rec.Provenance = appendUnique(c.rec.Provenance, o.chunkID)
	if o.span.End > c.rec.PageEnd {
		c.rec.PageEnd = o.span.End
	}
	if ch := o.rec.Choices; len(ch) > 0 && (ch[0].ImageRef != "" || models.HasImagePlaceholder(ch[0].Content)) {
		c.rec.Flags.HasImage = true
	}
	o.used = true
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
