package extract

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

const baseSchema = `Return ONLY a JSON array. Each element describes one question and has these keys:
- "question_number": the printed question number as an integer, or null when the block has no number.
- "question_text": the question stem exactly as printed, without the number and without the choices.
- "choices": an array of {"marker": "①", "content": "..."} in printed order. Keep the printed marker.
- "passage": supporting text (a reading passage or a <보기> box) or null.
- "table": a table object {"header": [...], "rows": [[...], ...]} or null when the question has no table.
- "code": {"language": "...", "source": "..."} or null when the question has no code.
- "content_type": one of "TEXT", "TABLE", "CODE", "DIAGRAM_IMAGE", "CHOICE_IMAGE", "MIXED".
Transcribe exactly. Do not solve the questions and do not add answers or explanations.`

const chunkHeader = `The image shows {{.Scope}} of an exam paper.
{{- if .Planned}} It should contain questions {{.Planned}}.{{end}}
{{- if gt .Estimated 0}} Expect about {{.Estimated}} question(s).{{end}}
`

var instructionTemplates = map[models.ContentType]string{
	models.ContentText: chunkHeader + `
Extract every multiple-choice or short-answer question in the image.
` + baseSchema,

	models.ContentTable: chunkHeader + `
The questions here contain data tables. For every table:
- "header" must list every column heading; "rows" must list EVERY data row, one array per row, cells in
  column order, with empty strings for blank cells. Never summarise or skip rows.
- When a question has no table, set "table": null explicitly.
` + baseSchema,

	models.ContentCode: chunkHeader + `
The questions here contain source code. For every code block put the code in "code.source" wrapped in
triple backticks, preserving every space, tab and line break literally. Do not reformat, re-indent or
fix the code. When a question has no code, set "code": null.
` + baseSchema,

	models.ContentDiagramImage: chunkHeader + `
The questions here refer to diagrams, graphs or pictures. Do not describe the picture. Wherever a
picture appears in a stem or passage write the token [IMAGE:q<question number>:<k>] where k counts the
pictures of that question from 1, and put the same token in "passage".
` + baseSchema,

	models.ContentChoiceImage: chunkHeader + `
The answer choices here are pictures. For each choice set "content" to the token
[IMAGE:q<question number>:<choice ordinal>] (for example "[IMAGE:q7:3]" for choice ③ of question 7) and
keep the printed marker. Never describe the pictures.
` + baseSchema,

	models.ContentMixed: chunkHeader + `
The questions here mix tables, code and pictures.
- Tables: full header and every row; "table": null when a question has none.
- Code: literal whitespace inside triple backticks in "code.source"; "code": null when a question has none.
- Pictures: the token [IMAGE:q<question number>:<k>] in place of each picture or picture choice.
` + baseSchema,
}

const overlapAddendum = `
This image is a seam: the bottom of page {{.Top}} stacked over the top of page {{.Bottom}}. Focus on the
question that crosses the page break and return its full content from both halves.
{{- if .Issues}} Expected problems here: {{.Issues}}.{{end}}
If the lower half starts with answer choices whose question stem is not visible, return them as a
separate element with "question_number": null, "question_text": "" and only those choices, keeping their
printed markers.`

var (
	compiled      = map[models.ContentType]*template.Template{}
	overlapSuffix = template.Must(template.New("overlap").Parse(overlapAddendum))
)

func init() {
	for ct, text := range instructionTemplates {
		compiled[ct] = template.Must(template.New(string(ct)).Parse(text))
	}
}

type promptData struct {
	Scope     string
	Planned   string
	Estimated int
	Top       int
	Bottom    int
	Issues    string
}

// Instruction renders the extraction instruction for a chunk.
func Instruction(c models.Chunk, issues []models.BoundaryIssue) (string, error) {
	tmpl, ok := compiled[c.ContentType]
	if !ok {
		tmpl = compiled[models.ContentText]
	}
	data := promptData{
		Scope:     scopeOf(c),
		Estimated: c.EstimatedQuestions,
		Top:       c.Span.Start,
		Bottom:    c.Span.End,
	}
	if len(c.PlannedQuestions) > 0 {
		data.Planned = joinInts(c.PlannedQuestions)
	}
	for i, issue := range issues {
		if i > 0 {
			data.Issues += "; "
		}
		data.Issues += fmt.Sprintf("question %d %s", issue.QuestionNumber, issue.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s instruction: %w", c.ContentType, err)
	}
	if c.Kind == models.ChunkBoundaryOverlap {
		if err := overlapSuffix.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("failed to render overlap addendum: %w", err)
		}
	}
	return buf.String(), nil
}

func scopeOf(c models.Chunk) string {
	switch c.Kind {
	case models.ChunkBoundaryOverlap:
		return fmt.Sprintf("the boundary between pages %d and %d", c.Span.Start, c.Span.End)
	case models.ChunkMultiPageWindow:
		if c.Span.Pages() > 1 {
			return fmt.Sprintf("pages %d to %d stacked vertically", c.Span.Start, c.Span.End)
		}
	}
	return fmt.Sprintf("page %d", c.Span.Start)
}

func joinInts(nums []int) string {
	var buf bytes.Buffer
	for i, n := range nums {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprint(&buf, n)
	}
	return buf.String()
}
