package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/util"
)

// EncodeAnswer 按题型序列化答案：多选题保存为 JSON 字符串数组，其它题型保存为字符串
func EncodeAnswer(t model.QuestionType, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if t == model.QuestionMultipleChoice {
		choices, err := answerChoices(raw)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(choices)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var arr []interface{}
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, v := range arr {
			parts = append(parts, stringify(v))
		}
		return strings.Join(parts, ", "), nil
	}
	return string(raw), nil
}

// answerChoices 接受数组、单个字符串或 JSON 数组字符串
func answerChoices(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var arr []interface{}
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			out = append(out, stringify(v))
		}
		return out, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if nested, ok := decodeChoices(s); ok {
			return nested, nil
		}
		if s == "" {
			return []string{}, nil
		}
		return []string{s}, nil
	}
	return nil, util.NewValidationError("answer", "multiple_choice answer must be an array of strings, got %s", string(raw))
}

// DecodeAnswer 反序列化保存的答案；多选题解析失败时原样返回字符串
func DecodeAnswer(t model.QuestionType, text string) interface{} {
	if t != model.QuestionMultipleChoice {
		return text
	}
	if choices, ok := decodeChoices(text); ok {
		return choices
	}
	return text
}

// FormatAnswer 导出用：多选题以 ", " 连接
func FormatAnswer(t model.QuestionType, text string) string {
	if t != model.QuestionMultipleChoice {
		return text
	}
	if choices, ok := decodeChoices(text); ok {
		return strings.Join(choices, ", ")
	}
	return text
}

func decodeChoices(text string) ([]string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return nil, false
	}
	var choices []string
	if err := json.Unmarshal([]byte(text), &choices); err != nil {
		return nil, false
	}
	return choices, true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
