package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

func TestParseMarker(t *testing.T) {
	tests := []struct {
		in      string
		ordinal int
		rest    string
		ok      bool
	}{
		{"① 첫째", 1, "첫째", true},
		{"⑤", 5, "", true},
		{"❸ third", 3, "third", true},
		{"(2) two", 2, "two", true},
		{"3) three", 3, "three", true},
		{"4. four", 4, "four", true},
		{"ㄷ. 셋째", 3, "셋째", true},
		{"나) 둘째", 2, "둘째", true},
		{"b) bee", 2, "bee", true},
		{"(C) see", 3, "see", true},
		{"다음 중 옳은 것은?", 0, "다음 중 옳은 것은?", false},
		{"0. zero", 0, "0. zero", false},
		{"", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, rest, ok := ParseMarker(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ordinal, m.Ordinal)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestNormalizeMarker(t *testing.T) {
	for in, want := range map[string]int{"③": 3, "3": 3, "(3)": 3, "c": 3, "C.": 3, "ㄷ": 3, "⑳": 20} {
		m, ok := NormalizeMarker(in)
		require.True(t, ok, in)
		assert.Equal(t, want, m.Ordinal, in)
	}
	_, ok := NormalizeMarker("choice")
	assert.False(t, ok)
}

func TestCircledLabel(t *testing.T) {
	assert.Equal(t, "①", CircledLabel(1))
	assert.Equal(t, "⑤", CircledLabel(5))
	assert.Equal(t, "(21)", CircledLabel(21))
}

func TestSplitMarkedLines(t *testing.T) {
	stem, choices := SplitMarkedLines("11. 다음 중 옳은 것은?\n① 가 ② 나\n③ 다\n이어지는 줄")
	assert.Equal(t, "11. 다음 중 옳은 것은?", stem)
	require.Len(t, choices, 3)
	assert.Equal(t, 1, choices[0].Marker.Ordinal)
	assert.Equal(t, "가", choices[0].Text)
	assert.Equal(t, "나", choices[1].Text)
	assert.Equal(t, "다 이어지는 줄", choices[2].Text)
}

func TestSplitMarkedLinesKeepsCitedGlyphsInStem(t *testing.T) {
	stem, choices := SplitMarkedLines("㉠과 ㉡에 들어갈 말은?")
	assert.Empty(t, choices)
	assert.Equal(t, "㉠과 ㉡에 들어갈 말은?", stem)
}

func TestClassifyRecord(t *testing.T) {
	e := Default()
	choices := func(markers ...int) []models.ChoiceRecord {
		var out []models.ChoiceRecord
		for _, m := range markers {
			out = append(out, models.ChoiceRecord{Marker: m, Content: "x"})
		}
		return out
	}

	tests := []struct {
		name  string
		rec   models.QuestionRecord
		label Label
	}{
		{"empty", models.QuestionRecord{}, LabelEmpty},
		{"question with cue", models.QuestionRecord{QuestionNumber: 11, Text: "다음 중 옳은 것은?", Choices: choices(1, 2)}, LabelQuestion},
		{"continuation choices", models.QuestionRecord{QuestionNumber: 11, Choices: choices(3, 4, 5)}, LabelOrphanChoices},
		{"unnumbered choices", models.QuestionRecord{Choices: choices(1, 2, 3)}, LabelOrphanChoices},
		{"marker led stem", models.QuestionRecord{Text: "③ 셋\n④ 넷"}, LabelOrphanChoices},
		{"unnumbered question", models.QuestionRecord{Text: "다음 중 옳은 것은?", Choices: choices(1)}, LabelQuestion},
		{"numbered no cue", models.QuestionRecord{QuestionNumber: 4, Text: "빈칸에 알맞은 말", Choices: choices(1, 2, 3, 4)}, LabelQuestion},
		{"long unnumbered text", models.QuestionRecord{Text: "이 글은 조선 후기의 사회 변화와 실학의 등장 배경을 설명하는 긴 지문의 일부로서 문항 번호가 없다"}, LabelFragment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.label, e.ClassifyRecord(tt.rec).Label)
		})
	}
}

func TestIsOrphanHonoursThreshold(t *testing.T) {
	e := Default()
	rec := models.QuestionRecord{Text: "보기", Choices: []models.ChoiceRecord{{Marker: 3}}}
	assert.True(t, e.IsOrphan(rec, 0.5))
	assert.False(t, e.IsOrphan(rec, 0.8))
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	custom := DefaultRules()
	for i := range custom {
		if custom[i].Label == LabelOrphanChoices {
			custom[i].Enabled = false
		}
	}
	e := NewEngine(custom, DefaultCues)
	v := e.ClassifyRecord(models.QuestionRecord{QuestionNumber: 11, Choices: []models.ChoiceRecord{{Marker: 3}}})
	assert.Equal(t, LabelQuestion, v.Label)
	assert.Equal(t, "numbered", v.Rule)
}
