package enhance

import "github.com/Lllllllleong/examquestionflow/internal/models"

// ValidateTable sets TableComplete for table passages and pads ragged rows to the table width.
// A header with no data rows, or a TABLE question without any table, is incomplete. Padding marks
// the record auto-fixed. It reports completeness and whether any row was padded.
func ValidateTable(rec *models.QuestionRecord) (complete, padded bool) {
	t := rec.Passage.Table
	if rec.Passage.Kind != models.PassageTable || t == nil {
		if rec.ContentType == models.ContentTable || rec.Flags.HasTable {
			rec.Quality.TableComplete = false
			return false, false
		}
		return true, false
	}
	rec.Flags.HasTable = true

	width := len(t.Header)
	for _, row := range t.Rows {
		width = max(width, len(row))
	}
	if len(t.Header) > 0 && len(t.Header) < width {
		t.Header = pad(t.Header, width)
		padded = true
	}
	for i, row := range t.Rows {
		if len(row) < width {
			t.Rows[i] = pad(row, width)
			padded = true
		}
	}
	if padded {
		rec.Quality.AutoFixed = true
	}

	rec.Quality.TableComplete = t.HasDataRows()
	return rec.Quality.TableComplete, padded
}

func pad(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}
