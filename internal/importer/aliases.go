package importer

import (
	"fmt"
	"strings"
)

// Field 规范字段及其可接受的列名，按顺序匹配，先出现者优先
type Field struct {
	Name     string
	Aliases  []string
	Required bool
}

type FieldSet []Field

var (
	QuestionnaireFields = FieldSet{
		{Name: "id", Aliases: []string{"id", "questionnaire_id"}, Required: true},
		{Name: "name", Aliases: []string{"name", "questionnaire_name", "title"}, Required: true},
		{Name: "description", Aliases: []string{"description", "questionnaire_description"}},
	}

	// "question" 列既可能是纯文本，也可能是内嵌 {"type","question","options"} 的 JSON
	QuestionFields = FieldSet{
		{Name: "id", Aliases: []string{"id", "question_id"}, Required: true},
		{Name: "text", Aliases: []string{"text", "question_text", "question"}, Required: true},
		{Name: "type", Aliases: []string{"type", "question_type"}},
		{Name: "options", Aliases: []string{"options", "question_options", "choices"}},
	}

	JunctionFields = FieldSet{
		{Name: "questionnaire_id", Aliases: []string{"questionnaire_id", "questionnaireid"}, Required: true},
		{Name: "question_id", Aliases: []string{"question_id", "questionid"}, Required: true},
		{Name: "priority", Aliases: []string{"priority", "order", "position"}},
	}
)

func (fs FieldSet) Field(name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// columnMap 表头 -> 规范字段的列下标
type columnMap map[string]int

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// mapColumns 一次性解析表头；缺少必填列时返回 FieldError
func (fs FieldSet) mapColumns(file string, header []string) (columnMap, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	cols := make(columnMap, len(fs))
	for _, f := range fs {
		for _, alias := range f.Aliases {
			if i, ok := index[alias]; ok {
				cols[f.Name] = i
				break
			}
		}
		if _, ok := cols[f.Name]; !ok && f.Required {
			return nil, &FieldError{File: file, Row: 1, Field: f.Name, Aliases: f.Aliases}
		}
	}
	return cols, nil
}

// raw 取某字段在当前记录中的值，列缺失或越界时为空串
func (c columnMap) raw(record []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// FieldError 缺少必填字段
type FieldError struct {
	File    string
	Row     int
	Field   string
	Aliases []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s row %d: missing required field %q (accepted columns: %s)",
		e.File, e.Row, e.Field, strings.Join(e.Aliases, ", "))
}
