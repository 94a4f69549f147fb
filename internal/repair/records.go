package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Lllllllleong/examquestionflow/internal/models"
	"github.com/Lllllllleong/examquestionflow/internal/rules"
)

// Source identifies the chunk a response was extracted from.
type Source struct {
	ChunkID     string
	Kind        models.ChunkKind
	Span        models.PageSpan
	ContentType models.ContentType
}

// SourceOf describes a chunk.
func SourceOf(c models.Chunk) Source {
	return Source{ChunkID: c.ID, Kind: c.Kind, Span: c.Span, ContentType: c.ContentType}
}

// Result is a normalized response.
type Result struct {
	Records []models.QuestionRecord
	Stage   models.RepairStage
	Status  models.ParseStatus
}

// Normalize decodes raw through the repair ladder and converts every decoded item into a
// QuestionRecord attributed to src. Records recovered by any stage past the first are flagged
// auto_fixed.
func Normalize(raw string, src Source) Result {
	decoded := DecodeRecords(raw)
	res := Result{Records: []models.QuestionRecord{}, Stage: decoded.Stage, Status: decoded.Status}
	for _, item := range decoded.Items {
		rec, ok := ToRecord(item, src)
		if !ok {
			continue
		}
		rec.Quality.AutoFixed = decoded.Status != models.ParseOK
		res.Records = append(res.Records, rec)
	}
	if len(decoded.Items) > 0 && len(res.Records) == 0 && decoded.Status == models.ParsePartial {
		res.Status = models.ParseFailed
		res.Stage = models.StageFallback
	}
	return res
}

var leadingNumberRe = regexp.MustCompile(`^\s*(?:Q\s*)?(\d{1,3})\s*(?:[.)]|번\.?)\s*`)

// ToRecord converts one decoded object. ok is false when the object carries nothing usable.
func ToRecord(item map[string]any, src Source) (models.QuestionRecord, bool) {
	rec := models.QuestionRecord{
		QuestionNumber: intOf(field(item, "question_number", "questionNumber", "number", "no", "q")),
		Text:           strings.TrimSpace(str(field(item, "question_text", "text", "question", "stem"))),
		Provenance:     []string{src.ChunkID},
		SourceKind:     src.Kind,
		PageStart:      src.Span.Start,
		PageEnd:        src.Span.End,
	}

	if m := leadingNumberRe.FindStringSubmatchIndex(rec.Text); m != nil {
		n, _ := strconv.Atoi(rec.Text[m[2]:m[3]])
		if rec.QuestionNumber <= 0 || rec.QuestionNumber == n {
			rec.QuestionNumber = n
			rec.Text = strings.TrimSpace(rec.Text[m[1]:])
		}
	}
	if rec.QuestionNumber < 0 {
		rec.QuestionNumber = 0
	}

	rec.Choices = parseChoices(field(item, "choices", "options", "answers"))
	if len(rec.Choices) == 0 && rec.Text != "" {
		stem, marked := rules.SplitMarkedLines(rec.Text)
		if len(marked) > 0 {
			rec.Text = stem
			for _, ml := range marked {
				rec.Choices = append(rec.Choices, choice(ml.Marker, ml.Text, ""))
			}
			rec.Choices = sortChoices(rec.Choices)
		}
	}

	if page := intOf(field(item, "page", "page_number")); page > 0 && src.Span.Contains(page) {
		rec.PageStart, rec.PageEnd = page, page
	}

	rec.Passage = parsePassage(item)
	rec.Flags = models.ContentFlags{
		HasTable: rec.Passage.Table != nil,
		HasCode:  rec.Passage.Code != nil,
		HasImage: rec.Passage.ImageRef != "" || models.HasImagePlaceholder(rec.Text) || choicesHaveImages(rec.Choices),
	}
	rec.ContentType = contentTypeOf(rec, str(field(item, "content_type", "contentType", "type")))

	if rec.QuestionNumber == 0 && rec.Text == "" && len(rec.Choices) == 0 && rec.Passage.IsEmpty() {
		return models.QuestionRecord{}, false
	}
	return rec, true
}

func contentTypeOf(rec models.QuestionRecord, declared string) models.ContentType {
	var specials []models.ContentType
	if rec.Flags.HasTable {
		specials = append(specials, models.ContentTable)
	}
	if rec.Flags.HasCode {
		specials = append(specials, models.ContentCode)
	}
	if choicesHaveImages(rec.Choices) {
		specials = append(specials, models.ContentChoiceImage)
	}
	if rec.Passage.ImageRef != "" || models.HasImagePlaceholder(rec.Text) {
		specials = append(specials, models.ContentDiagramImage)
	}
	switch len(specials) {
	case 0:
		if declared != "" {
			return models.ParseContentType(declared)
		}
		return models.ContentText
	case 1:
		return specials[0]
	}
	return models.ContentMixed
}

func choicesHaveImages(choices []models.ChoiceRecord) bool {
	for _, c := range choices {
		if c.ImageRef != "" || models.HasImagePlaceholder(c.Content) {
			return true
		}
	}
	return false
}

func parseChoices(v any) []models.ChoiceRecord {
	var out []models.ChoiceRecord
	switch t := v.(type) {
	case []any:
		for i, el := range t {
			switch e := el.(type) {
			case map[string]any:
				content := str(field(e, "content", "text", "value", "choice"))
				image := str(field(e, "image_ref", "imageRef", "image"))
				marker, ok := rules.NormalizeMarker(str(field(e, "marker", "label", "number", "index", "id")))
				if !ok {
					if m, rest, found := rules.ParseMarker(content); found {
						marker, content, ok = m, rest, true
					}
				}
				if !ok {
					marker = rules.Marker{Ordinal: i + 1}
				}
				out = append(out, choice(marker, content, image))
			case nil:
			default:
				s := str(e)
				if m, rest, ok := rules.ParseMarker(s); ok {
					out = append(out, choice(m, rest, ""))
				} else {
					out = append(out, choice(rules.Marker{Ordinal: i + 1}, s, ""))
				}
			}
		}
	case map[string]any:
		for k, val := range t {
			m, ok := rules.NormalizeMarker(k)
			if !ok {
				continue
			}
			out = append(out, choice(m, str(val), ""))
		}
	case string:
		_, marked := rules.SplitMarkedLines(t)
		for _, ml := range marked {
			out = append(out, choice(ml.Marker, ml.Text, ""))
		}
	}
	return sortChoices(out)
}

func choice(m rules.Marker, content, image string) models.ChoiceRecord {
	label := m.Label
	if label == "" {
		label = rules.CircledLabel(m.Ordinal)
	}
	content = strings.TrimSpace(content)
	if image == "" && models.ImagePlaceholderRe.FindString(content) == content && content != "" {
		image, content = content, ""
	}
	return models.ChoiceRecord{Marker: m.Ordinal, Label: label, Content: content, ImageRef: strings.TrimSpace(image)}
}

// sortChoices orders choices by marker and keeps the fuller of two choices sharing a marker.
func sortChoices(choices []models.ChoiceRecord) []models.ChoiceRecord {
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].Marker < choices[j].Marker })
	out := choices[:0]
	for _, c := range choices {
		if n := len(out); n > 0 && out[n-1].Marker == c.Marker {
			if len(c.Content)+len(c.ImageRef) > len(out[n-1].Content)+len(out[n-1].ImageRef) {
				out[n-1] = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func parsePassage(item map[string]any) models.Passage {
	var p models.Passage
	raw := field(item, "passage", "context", "stimulus", "passage_text")
	switch t := raw.(type) {
	case string:
		p.Text = strings.TrimSpace(t)
	case map[string]any:
		p.Text = strings.TrimSpace(str(field(t, "text", "content")))
		p.ImageRef = str(field(t, "image_ref", "imageRef", "image"))
		if tbl := parseTable(field(t, "table")); tbl != nil {
			p.Table = tbl
		}
		if code := parseCode(field(t, "code", "source")); code != nil {
			p.Code = code
		}
	}

	if tbl := parseTable(field(item, "table")); tbl != nil {
		p.Table = tbl
	}
	if code := parseCode(field(item, "code")); code != nil {
		p.Code = code
	}
	if p.ImageRef == "" {
		p.ImageRef = firstImageRef(field(item, "image_refs", "images", "image_ref", "image"))
	}

	// A plain passage may itself be a markdown table, a fenced code block or a lone image token.
	if p.Table == nil && p.Code == nil && p.Text != "" {
		switch {
		case looksLikeMarkdownTable(p.Text):
			p.Table = parseMarkdownTable(p.Text)
			p.Text = ""
		case strings.HasPrefix(p.Text, "```"):
			p.Code = parseCode(p.Text)
			p.Text = ""
		}
	}
	if p.ImageRef == "" {
		if tok := models.ImagePlaceholderRe.FindString(p.Text); tok != "" {
			p.ImageRef = tok
			p.Text = strings.TrimSpace(strings.Replace(p.Text, tok, "", 1))
		}
	}

	switch {
	case p.Table != nil:
		p.Kind = models.PassageTable
	case p.Code != nil:
		p.Kind = models.PassageCode
	case p.ImageRef != "":
		p.Kind = models.PassageImage
	case p.Text != "":
		p.Kind = models.PassageText
	}
	return p
}

func firstImageRef(v any) string {
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if s := strings.TrimSpace(str(el)); s != "" {
				return s
			}
		}
	default:
		return strings.TrimSpace(str(t))
	}
	return ""
}

var fenceOpenRe = regexp.MustCompile("^```([A-Za-z0-9_+#.-]*)[ \t]*\r?\n?")

// parseCode accepts {"language", "source"} objects or fenced strings. Whitespace inside the fence
// is kept verbatim.
func parseCode(v any) *models.Code {
	switch t := v.(type) {
	case map[string]any:
		src := str(field(t, "source", "code", "content", "text"))
		if strings.TrimSpace(src) == "" {
			return nil
		}
		c := parseCode(src)
		if lang := str(field(t, "language", "lang")); lang != "" {
			c.Language = lang
		}
		return c
	case string:
		if strings.TrimSpace(t) == "" || t == "null" {
			return nil
		}
		s := strings.Trim(t, "\r\n")
		c := &models.Code{}
		if m := fenceOpenRe.FindStringSubmatch(strings.TrimLeft(s, " \t")); m != nil {
			c.Language = m[1]
			s = strings.TrimLeft(s, " \t")[len(m[0]):]
			if i := strings.LastIndex(s, "```"); i >= 0 {
				s = s[:i]
			}
			s = strings.TrimRight(s, "\r\n")
		}
		c.Source = s
		return c
	}
	return nil
}

// parseTable accepts {"header", "rows"} objects, arrays of rows (first row is the header), arrays
// of row objects and markdown tables. An explicit null means the question has no table.
func parseTable(v any) *models.Table {
	switch t := v.(type) {
	case map[string]any:
		tbl := &models.Table{Header: cells(field(t, "header", "headers", "columns"))}
		switch rows := field(t, "rows", "data", "body").(type) {
		case []any:
			for _, row := range rows {
				if obj, ok := row.(map[string]any); ok {
					tbl.Rows = append(tbl.Rows, rowFromObject(obj, tbl.Header))
				} else {
					tbl.Rows = append(tbl.Rows, cells(row))
				}
			}
		}
		if len(tbl.Header) == 0 && len(tbl.Rows) == 0 {
			return nil
		}
		return tbl
	case []any:
		if len(t) == 0 {
			return nil
		}
		if first, ok := t[0].(map[string]any); ok {
			header := sortedKeys(first)
			tbl := &models.Table{Header: header}
			for _, row := range t {
				if obj, ok := row.(map[string]any); ok {
					tbl.Rows = append(tbl.Rows, rowFromObject(obj, header))
				}
			}
			return tbl
		}
		tbl := &models.Table{Header: cells(t[0])}
		for _, row := range t[1:] {
			tbl.Rows = append(tbl.Rows, cells(row))
		}
		return tbl
	case string:
		if looksLikeMarkdownTable(t) {
			return parseMarkdownTable(t)
		}
	}
	return nil
}

func rowFromObject(obj map[string]any, header []string) []string {
	if len(header) == 0 {
		header = sortedKeys(obj)
	}
	row := make([]string, len(header))
	for i, h := range header {
		row[i] = str(obj[h])
	}
	return row
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cells(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if s := str(v); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = strings.TrimSpace(str(c))
	}
	return out
}

var mdSeparatorRe = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)

func looksLikeMarkdownTable(s string) bool {
	lines := nonEmptyLines(s)
	if len(lines) < 2 {
		return false
	}
	return strings.Contains(lines[0], "|") && mdSeparatorRe.MatchString(lines[1])
}

func parseMarkdownTable(s string) *models.Table {
	tbl := &models.Table{}
	for i, line := range nonEmptyLines(s) {
		if mdSeparatorRe.MatchString(line) {
			continue
		}
		row := splitMarkdownRow(line)
		if i == 0 {
			tbl.Header = row
			continue
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	return tbl
}

func splitMarkdownRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

var digitsRe = regexp.MustCompile(`\d+`)

func intOf(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if d := digitsRe.FindString(t); d != "" {
			n, _ := strconv.Atoi(d)
			return n
		}
	}
	return 0
}
