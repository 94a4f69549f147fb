package models

import "strings"

// ContentType is the dominant kind of content a question (or chunk) carries.
type ContentType string

const (
	ContentText         ContentType = "TEXT"
	ContentTable        ContentType = "TABLE"
	ContentCode         ContentType = "CODE"
	ContentDiagramImage ContentType = "DIAGRAM_IMAGE"
	ContentChoiceImage  ContentType = "CHOICE_IMAGE"
	ContentMixed        ContentType = "MIXED"
)

// ParseContentType maps loosely spelled model output ("table", "code block", "image_choice") onto
// a ContentType. Unknown values fall back to ContentText.
func ParseContentType(s string) ContentType {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch {
	case v == "":
		return ContentText
	case strings.Contains(v, "MIX"):
		return ContentMixed
	case strings.Contains(v, "TABLE"):
		return ContentTable
	case strings.Contains(v, "CODE"):
		return ContentCode
	case strings.Contains(v, "CHOICE") && (strings.Contains(v, "IMAGE") || strings.Contains(v, "IMG")):
		return ContentChoiceImage
	case strings.Contains(v, "DIAGRAM"), strings.Contains(v, "IMAGE"), strings.Contains(v, "FIGURE"), strings.Contains(v, "GRAPH"):
		return ContentDiagramImage
	}
	return ContentText
}

// IsImage reports whether the content type is one of the image modes.
func (c ContentType) IsImage() bool {
	return c == ContentDiagramImage || c == ContentChoiceImage
}

// PassageKind tags the Passage variant.
type PassageKind string

const (
	PassageNone  PassageKind = ""
	PassageText  PassageKind = "text"
	PassageTable PassageKind = "table"
	PassageCode  PassageKind = "code"
	PassageImage PassageKind = "image"
)

// Table is a parsed data table. Header may be empty when the model returned rows only.
type Table struct {
	Header []string   `json:"header" firestore:"header"`
	Rows   [][]string `json:"rows" firestore:"-"`
}

// HasDataRows reports whether at least one row contains a non-blank cell.
func (t *Table) HasDataRows() bool {
	if t == nil {
		return false
	}
	for _, row := range t.Rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return true
			}
		}
	}
	return false
}

// Code is a source code passage with whitespace preserved verbatim.
type Code struct {
	Language string `json:"language,omitempty" firestore:"language,omitempty"`
	Source   string `json:"source" firestore:"source"`
}

// Passage is the supporting material of a question. Exactly one of Text, Table, Code or ImageRef
// is meaningful, selected by Kind.
type Passage struct {
	Kind     PassageKind `json:"kind,omitempty" firestore:"kind,omitempty"`
	Text     string      `json:"text,omitempty" firestore:"text,omitempty"`
	Table    *Table      `json:"table,omitempty" firestore:"table,omitempty"`
	Code     *Code       `json:"code,omitempty" firestore:"code,omitempty"`
	ImageRef string      `json:"imageRef,omitempty" firestore:"imageRef,omitempty"`
}

// Length is the amount of passage content, used for completeness ranking.
func (p Passage) Length() int {
	switch p.Kind {
	case PassageTable:
		if p.Table == nil {
			return 0
		}
		n := len(strings.Join(p.Table.Header, ""))
		for _, row := range p.Table.Rows {
			n += len(strings.Join(row, ""))
		}
		return n
	case PassageCode:
		if p.Code == nil {
			return 0
		}
		return len(p.Code.Source)
	case PassageImage:
		if p.ImageRef != "" {
			return len(p.ImageRef) + len(p.Text)
		}
	}
	return len(p.Text)
}

// IsEmpty reports whether the passage carries nothing.
func (p Passage) IsEmpty() bool {
	return p.Kind == PassageNone || p.Length() == 0
}

// ChoiceRecord is one answer choice. Marker is the normalized 1-based ordinal; Label keeps the
// glyph the exam printed (for example "③").
type ChoiceRecord struct {
	Marker   int    `json:"marker" firestore:"marker"`
	Label    string `json:"label,omitempty" firestore:"label,omitempty"`
	Content  string `json:"content" firestore:"content"`
	ImageRef string `json:"imageRef,omitempty" firestore:"imageRef,omitempty"`
}

// ContentFlags records which special content a question carries.
type ContentFlags struct {
	HasTable bool `json:"hasTable" firestore:"hasTable"`
	HasCode  bool `json:"hasCode" firestore:"hasCode"`
	HasImage bool `json:"hasImage" firestore:"hasImage"`
}

// QualityFlags are the diagnostics attached by reconciliation and post-processing.
type QualityFlags struct {
	IncompleteChoices bool `json:"incompleteChoices" firestore:"incompleteChoices"`
	CrossPageResolved bool `json:"crossPageResolved" firestore:"crossPageResolved"`
	AutoFixed         bool `json:"autoFixed" firestore:"autoFixed"`
	TableComplete     bool `json:"tableComplete" firestore:"tableComplete"`
	CodeReindented    bool `json:"codeReindented" firestore:"codeReindented"`
	Merged            bool `json:"merged" firestore:"merged"`
}

// QuestionRecord is one extracted exam question. QuestionNumber is the unique key within a
// document; zero means the extractor could not attribute the content (an orphan block).
type QuestionRecord struct {
	QuestionNumber      int            `json:"questionNumber" firestore:"questionNumber"`
	Text                string         `json:"text" firestore:"text"`
	Choices             []ChoiceRecord `json:"choices" firestore:"choices"`
	Passage             Passage        `json:"passage" firestore:"passage"`
	ContentType         ContentType    `json:"contentType" firestore:"contentType"`
	Flags               ContentFlags   `json:"contentFlags" firestore:"contentFlags"`
	Quality             QualityFlags   `json:"quality" firestore:"quality"`
	Provenance          []string       `json:"provenance" firestore:"provenance"`
	DiscardedProvenance []string       `json:"discardedProvenance,omitempty" firestore:"discardedProvenance,omitempty"`
	SourceKind          ChunkKind      `json:"sourceKind" firestore:"sourceKind"`
	PageStart           int            `json:"pageStart" firestore:"pageStart"`
	PageEnd             int            `json:"pageEnd" firestore:"pageEnd"`
	CompletenessScore   float64        `json:"completenessScore" firestore:"completenessScore"`
}

// Clone returns a deep copy so stages never alias each other's slices.
func (q QuestionRecord) Clone() QuestionRecord {
	out := q
	out.Choices = append([]ChoiceRecord(nil), q.Choices...)
	out.Provenance = append([]string(nil), q.Provenance...)
	out.DiscardedProvenance = append([]string(nil), q.DiscardedProvenance...)
	if q.Passage.Table != nil {
		t := &Table{Header: append([]string(nil), q.Passage.Table.Header...)}
		for _, row := range q.Passage.Table.Rows {
			t.Rows = append(t.Rows, append([]string(nil), row...))
		}
		out.Passage.Table = t
	}
	if q.Passage.Code != nil {
		c := *q.Passage.Code
		out.Passage.Code = &c
	}
	return out
}

// ChoicesContiguous reports whether markers run 1..n, or k..k+n-1 from the first marker, without gaps.
func (q QuestionRecord) ChoicesContiguous() bool {
	for i := 1; i < len(q.Choices); i++ {
		if q.Choices[i].Marker != q.Choices[i-1].Marker+1 {
			return false
		}
	}
	return true
}

// MaxMarker returns the highest choice marker, or zero without choices.
func (q QuestionRecord) MaxMarker() int {
	max := 0
	for _, c := range q.Choices {
		if c.Marker > max {
			max = c.Marker
		}
	}
	return max
}

// IsOrphan reports whether the record has no attributable question number.
func (q QuestionRecord) IsOrphan() bool {
	return q.QuestionNumber <= 0
}
