package models

import "fmt"

// Asset types stored alongside question records.
const (
	AssetChoice  = "choice"
	AssetDiagram = "diagram"
	AssetPassage = "passage"
)

// AssetKey identifies one stored image asset of a question.
type AssetKey struct {
	QuestionNumber int    `json:"questionNumber"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
}

// Name is the deterministic base name of the asset, for example "q0007_choice_3".
func (k AssetKey) Name() string {
	return fmt.Sprintf("q%04d_%s_%d", k.QuestionNumber, k.Type, k.Index)
}

// Asset is a stored crop available to the image resolver.
type Asset struct {
	Key  AssetKey `json:"key"`
	Page int      `json:"page"`
	Ref  string   `json:"ref"`
}
