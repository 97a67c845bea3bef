package importer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Questionnaire 规范化后的导入问卷，也是 POST /admin/import-questionnaires 的请求体
// Name 为空表示仅引用已有问卷
type Questionnaire struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
}

// Question 规范化后的导入题目；Text 为空表示仅引用已有题目
type Question struct {
	ID       int64    `json:"id"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Priority int      `json:"priority"`
}

// IsReference 是否只携带 ID
func (q Question) IsReference() bool {
	return strings.TrimSpace(q.Text) == ""
}

const (
	TypeText           = "text"
	TypeMultipleChoice = "multiple_choice"
)

var typeAliases = map[string]string{
	"text":            TypeText,
	"free_text":       TypeText,
	"textarea":        TypeText,
	"string":          TypeText,
	"multiple_choice": TypeMultipleChoice,
	"multiplechoice":  TypeMultipleChoice,
	"multi_choice":    TypeMultipleChoice,
	"choice":          TypeMultipleChoice,
	"mcq":             TypeMultipleChoice,
}

// NormalizeType 统一题型写法；为空时按是否有选项推断
func NormalizeType(raw string, hasOptions bool) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		if hasOptions {
			return TypeMultipleChoice, nil
		}
		return TypeText, nil
	}
	if t, ok := typeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("field %q: unsupported question type %q (expected text or multiple_choice)", "type", raw)
}

// NormalizeQuestion 校验并规范化题目；多选题必须带选项，文本题丢弃选项
func NormalizeQuestion(q Question) (Question, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.IsReference() {
		return q, nil
	}
	t, err := NormalizeType(q.Type, len(q.Options) > 0)
	if err != nil {
		return q, err
	}
	q.Type = t
	if t == TypeMultipleChoice {
		if len(q.Options) == 0 {
			f, _ := QuestionFields.Field("options")
			return q, fmt.Errorf("field %q is required for multiple_choice questions (accepted columns: %s)",
				"options", strings.Join(f.Aliases, ", "))
		}
	} else {
		q.Options = nil
	}
	return q, nil
}

// UnmarshalJSON 请求体与 CSV 使用同一张别名表
func (q *Questionnaire) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var err error
	if q.ID, err = pickInt(m, QuestionnaireFields, "id"); err != nil {
		return err
	}
	q.Name = pickString(m, QuestionnaireFields, "name")
	q.Description = pickString(m, QuestionnaireFields, "description")
	if raw, ok := m["questions"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &q.Questions); err != nil {
			return err
		}
	}
	return nil
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var err error
	if q.ID, err = pickInt(m, QuestionFields, "id"); err != nil {
		return err
	}
	q.Text = pickString(m, QuestionFields, "text")
	q.Type = pickString(m, QuestionFields, "type")
	q.Options = parseRawOptions(pick(m, QuestionFields, "options"))
	if eq, ok := decodeEmbedded(q.Text); ok {
		q.Text = eq.Question
		if eq.Type != "" {
			q.Type = eq.Type
		}
		if opts := parseRawOptions(eq.Options); opts != nil {
			q.Options = opts
		}
	}
	if raw := pick(m, JunctionFields, "priority"); raw != nil {
		p, err := rawInt(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", "priority", err)
		}
		q.Priority = int(p)
	}
	return nil
}

func pick(m map[string]json.RawMessage, fs FieldSet, field string) json.RawMessage {
	f, ok := fs.Field(field)
	if !ok {
		return nil
	}
	for _, alias := range f.Aliases {
		for k, v := range m {
			if strings.EqualFold(k, alias) && string(v) != "null" {
				return v
			}
		}
	}
	return nil
}

func pickString(m map[string]json.RawMessage, fs FieldSet, field string) string {
	raw := pick(m, fs, field)
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// 内嵌对象按原文交给 decodeEmbedded
	return strings.TrimSpace(string(raw))
}

func pickInt(m map[string]json.RawMessage, fs FieldSet, field string) (int64, error) {
	raw := pick(m, fs, field)
	if raw == nil {
		return 0, nil
	}
	v, err := rawInt(raw)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", field, err)
	}
	return v, nil
}

// rawInt 接受数字或数字字符串
func rawInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected integer, got %s", string(raw))
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
