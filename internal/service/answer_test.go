package service

import (
	"encoding/json"
	"testing"

	"questionnaire_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAnswer(t *testing.T) {
	tests := []struct {
		name string
		typ  model.QuestionType
		raw  string
		want string
	}{
		{"choice array", model.QuestionMultipleChoice, `["Pollen","Dust"]`, `["Pollen","Dust"]`},
		{"choice single string", model.QuestionMultipleChoice, `"Pollen"`, `["Pollen"]`},
		{"choice json string", model.QuestionMultipleChoice, `"[\"Pollen\",\"Dust\"]"`, `["Pollen","Dust"]`},
		{"choice numbers", model.QuestionMultipleChoice, `[1, 2]`, `["1","2"]`},
		{"choice null", model.QuestionMultipleChoice, `null`, `[]`},
		{"text string", model.QuestionText, `"42 years"`, `42 years`},
		{"text array", model.QuestionText, `["a","b"]`, `a, b`},
		{"text number", model.QuestionText, `42`, `42`},
		{"text null", model.QuestionText, `null`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeAnswer(tt.typ, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeAnswerRejectsObjectForChoice(t *testing.T) {
	_, err := EncodeAnswer(model.QuestionMultipleChoice, json.RawMessage(`{"x":1}`))
	assert.Error(t, err)
}

func TestDecodeAndFormatAnswer(t *testing.T) {
	assert.Equal(t, []string{"Pollen", "Dust"}, DecodeAnswer(model.QuestionMultipleChoice, `["Pollen","Dust"]`))
	// 历史数据可能不是 JSON
	assert.Equal(t, "Pollen", DecodeAnswer(model.QuestionMultipleChoice, "Pollen"))
	assert.Equal(t, `["x"]`, DecodeAnswer(model.QuestionText, `["x"]`))

	assert.Equal(t, "Pollen, Dust", FormatAnswer(model.QuestionMultipleChoice, `["Pollen","Dust"]`))
	assert.Equal(t, "free text", FormatAnswer(model.QuestionText, "free text"))
}
