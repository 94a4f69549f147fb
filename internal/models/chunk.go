package models

import "fmt"

// ChunkKind classifies how a chunk was cut from the document.
type ChunkKind string

const (
	ChunkSinglePage      ChunkKind = "single_page"
	ChunkBoundaryOverlap ChunkKind = "boundary_overlap"
	ChunkMultiPageWindow ChunkKind = "multi_page_window"
)

// Rank orders chunk kinds by how much cross-page context they can see.
func (k ChunkKind) Rank() int {
	switch k {
	case ChunkBoundaryOverlap:
		return 3
	case ChunkMultiPageWindow:
		return 2
	case ChunkSinglePage:
		return 1
	}
	return 0
}

// PageSpan is an inclusive, 1-based page range.
type PageSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether page lies inside the span.
func (s PageSpan) Contains(page int) bool {
	return page >= s.Start && page <= s.End
}

// Pages returns the number of pages covered.
func (s PageSpan) Pages() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start + 1
}

func (s PageSpan) String() string {
	if s.Start == s.End {
		return fmt.Sprintf("p%d", s.Start)
	}
	return fmt.Sprintf("p%d-%d", s.Start, s.End)
}

// Chunk is one extraction unit. It is ephemeral: the image bytes are dropped once extraction
// for the chunk finishes.
type Chunk struct {
	ID                 string      `json:"id"`
	Span               PageSpan    `json:"pageSpan"`
	Kind               ChunkKind   `json:"kind"`
	ContentType        ContentType `json:"contentType"`
	EstimatedQuestions int         `json:"estimatedQuestions"`
	PlannedQuestions   []int       `json:"plannedQuestions,omitempty"`
	Image              []byte      `json:"-"`
	MIMEType           string      `json:"mimeType,omitempty"`
}

// ChunkID builds the stable identifier used in provenance.
func ChunkID(kind ChunkKind, span PageSpan) string {
	switch kind {
	case ChunkBoundaryOverlap:
		return fmt.Sprintf("overlap-%d-%d", span.Start, span.End)
	case ChunkMultiPageWindow:
		return fmt.Sprintf("window-%d-%d", span.Start, span.End)
	}
	return fmt.Sprintf("page-%d", span.Start)
}
