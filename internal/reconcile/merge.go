package reconcile

import (
	"slices"
	"sort"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// mergeFragments unifies table and code passages per question number. A boundary_overlap chunk saw
// the seam and is authoritative; without one, single-page fragments from different pages are
// concatenated in page order. Every candidate holding less than the merged passage is upgraded.
func mergeFragments(candidates []*entry) (tables, code int) {
	groups := map[int][]*entry{}
	var numbers []int
	for _, c := range candidates {
		n := c.rec.QuestionNumber
		if _, ok := groups[n]; !ok {
			numbers = append(numbers, n)
		}
		groups[n] = append(groups[n], c)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		group := groups[n]
		if t, authoritative, ok := mergedTable(group); ok {
			for _, c := range group {
				if upgradeTable(c, t, authoritative) {
					tables++
				}
			}
		}
		if src, authoritative, ok := mergedCode(group); ok {
			for _, c := range group {
				if upgradeCode(c, src, authoritative) {
					code++
				}
			}
		}
	}
	return tables, code
}

func mergedTable(group []*entry) (*models.Table, bool, bool) {
	var overlap *models.Table
	var pieces []*entry
	for _, c := range group {
		t := c.rec.Passage.Table
		if c.rec.Passage.Kind != models.PassageTable || t == nil {
			continue
		}
		switch c.kind {
		case models.ChunkBoundaryOverlap:
			if overlap == nil || len(t.Rows) > len(overlap.Rows) {
				overlap = t
			}
		case models.ChunkSinglePage:
			pieces = append(pieces, c)
		}
	}
	if overlap != nil {
		return overlap, true, true
	}
	if distinctPages(pieces) < 2 {
		return nil, false, false
	}

	out := &models.Table{}
	seen := map[string]bool{}
	for _, c := range pieces {
		t := c.rec.Passage.Table
		if len(out.Header) == 0 && len(t.Header) > 0 {
			out.Header = slices.Clone(t.Header)
			seen[rowKey(t.Header)] = true
		}
		for _, row := range t.Rows {
			key := rowKey(row)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Rows = append(out.Rows, slices.Clone(row))
		}
	}
	return out, false, true
}

// upgradeTable replaces c's table with t when t is authoritative for single-page fragments or
// when t already holds every row of c's table.
func upgradeTable(c *entry, t *models.Table, authoritative bool) bool {
	cur := c.rec.Passage.Table
	if c.rec.Passage.Kind != models.PassageTable || cur == nil || sameTable(cur, t) {
		return false
	}
	if !(authoritative && c.kind == models.ChunkSinglePage) && !coversTable(t, cur) {
		return false
	}
	merged := &models.Table{Header: slices.Clone(t.Header)}
	if len(merged.Header) == 0 {
		merged.Header = slices.Clone(cur.Header)
	}
	for _, row := range t.Rows {
		merged.Rows = append(merged.Rows, slices.Clone(row))
	}
	c.rec.Passage.Table = merged
	c.rec.Flags.HasTable = true
	c.rec.Quality.Merged = true
	return true
}

func mergedCode(group []*entry) (*models.Code, bool, bool) {
	var overlap *models.Code
	var pieces []*entry
	for _, c := range group {
		code := c.rec.Passage.Code
		if c.rec.Passage.Kind != models.PassageCode || code == nil {
			continue
		}
		switch c.kind {
		case models.ChunkBoundaryOverlap:
			if overlap == nil || len(code.Source) > len(overlap.Source) {
				overlap = code
			}
		case models.ChunkSinglePage:
			pieces = append(pieces, c)
		}
	}
	if overlap != nil {
		return overlap, true, true
	}
	if distinctPages(pieces) < 2 {
		return nil, false, false
	}

	out := &models.Code{}
	var parts []string
	for _, c := range pieces {
		code := c.rec.Passage.Code
		if out.Language == "" {
			out.Language = code.Language
		}
		src := strings.TrimRight(code.Source, "\r\n")
		if len(parts) > 0 && parts[len(parts)-1] == src {
			continue
		}
		parts = append(parts, src)
	}
	out.Source = strings.Join(parts, "\n")
	return out, false, true
}

func upgradeCode(c *entry, code *models.Code, authoritative bool) bool {
	cur := c.rec.Passage.Code
	if c.rec.Passage.Kind != models.PassageCode || cur == nil || cur.Source == code.Source {
		return false
	}
	covered := strings.Contains(code.Source, strings.TrimRight(cur.Source, "\r\n"))
	if !(authoritative && c.kind == models.ChunkSinglePage) && !covered {
		return false
	}
	merged := *code
	if merged.Language == "" {
		merged.Language = cur.Language
	}
	c.rec.Passage.Code = &merged
	c.rec.Flags.HasCode = true
	c.rec.Quality.Merged = true
	return true
}

// distinctPages sorts single-page fragments by page and reports how many pages they cover.
func distinctPages(pieces []*entry) int {
	sort.SliceStable(pieces, func(i, j int) bool {
		return pieces[i].span.Start < pieces[j].span.Start
	})
	n, last := 0, 0
	for _, c := range pieces {
		if c.span.Start != last {
			n++
			last = c.span.Start
		}
	}
	return n
}

func sameTable(a, b *models.Table) bool {
	if rowKey(a.Header) != rowKey(b.Header) || len(a.Rows) != len(b.Rows) {
		return false
	}
	for i := range a.Rows {
		if rowKey(a.Rows[i]) != rowKey(b.Rows[i]) {
			return false
		}
	}
	return true
}

// coversTable reports whether every row of part appears in whole, as a data row or the header.
func coversTable(whole, part *models.Table) bool {
	have := map[string]bool{rowKey(whole.Header): true}
	for _, row := range whole.Rows {
		have[rowKey(row)] = true
	}
	for _, row := range part.Rows {
		if !have[rowKey(row)] {
			return false
		}
	}
	return true
}

func rowKey(row []string) string {
	cells := make([]string, len(row))
	for i, cell := range row {
		cells[i] = strings.Join(strings.Fields(cell), " ")
	}
	return strings.Join(cells, "\x1f")
}
