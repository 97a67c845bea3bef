package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"questionnaire_backend/pkg/logger"

	"go.uber.org/zap"
)

const (
	FileQuestionnaires = "questionnaires.csv"
	FileQuestions      = "questions.csv"
	FileJunctions      = "questionnaire_questions.csv"
)

var ErrEmptyCSV = errors.New("csv contains no records")

// Sources 三个 CSV 输入
type Sources struct {
	Questionnaires io.Reader
	Questions      io.Reader
	Junctions      io.Reader
}

// Result 解析结果；Warnings 为非致命问题（未知 ID 引用等）
type Result struct {
	Questionnaires []Questionnaire `json:"questionnaires"`
	Warnings       []string        `json:"warnings"`
}

// Junction 问卷-题目关联行
type Junction struct {
	QuestionnaireID int64
	QuestionID      int64
	Priority        int
	HasPriority     bool
}

// Parse 解析三个 CSV 并按关联表组装为规范的问卷结构
func Parse(src Sources) (*Result, error) {
	if src.Questionnaires == nil || src.Questions == nil || src.Junctions == nil {
		return nil, errors.New("questionnaires, questions and junction csv are all required")
	}

	questionnaires, err := ParseQuestionnaires(src.Questionnaires)
	if err != nil {
		return nil, err
	}
	questions, err := ParseQuestions(src.Questions)
	if err != nil {
		return nil, err
	}
	junctions, err := ParseJunctions(src.Junctions)
	if err != nil {
		return nil, err
	}

	return Assemble(questionnaires, questions, junctions), nil
}

// Assemble 交叉校验关联行；引用未知 ID 只记录警告，仍按仅引用的条目处理
func Assemble(questionnaires []Questionnaire, questions []Question, junctions []Junction) *Result {
	res := &Result{}
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		logger.Log.Warn("import csv", zap.String("warning", msg))
	}

	order := make([]int64, 0, len(questionnaires))
	byID := make(map[int64]*Questionnaire, len(questionnaires))
	for i := range questionnaires {
		q := questionnaires[i]
		if _, dup := byID[q.ID]; dup {
			warn("questionnaire %d appears more than once, last row wins", q.ID)
		} else {
			order = append(order, q.ID)
		}
		q.Questions = nil
		byID[q.ID] = &q
	}

	questionByID := make(map[int64]Question, len(questions))
	for _, q := range questions {
		if _, dup := questionByID[q.ID]; dup {
			warn("question %d appears more than once, last row wins", q.ID)
		}
		questionByID[q.ID] = q
	}

	used := make(map[int64]bool, len(questions))
	position := make(map[int64]int)
	for _, j := range junctions {
		qn, ok := byID[j.QuestionnaireID]
		if !ok {
			warn("junction references unknown questionnaire %d", j.QuestionnaireID)
			qn = &Questionnaire{ID: j.QuestionnaireID}
			byID[j.QuestionnaireID] = qn
			order = append(order, j.QuestionnaireID)
		}

		q, ok := questionByID[j.QuestionID]
		if !ok {
			warn("junction references unknown question %d", j.QuestionID)
			q = Question{ID: j.QuestionID}
		}
		used[j.QuestionID] = true

		position[j.QuestionnaireID]++
		q.Priority = position[j.QuestionnaireID]
		if j.HasPriority {
			q.Priority = j.Priority
		}
		qn.Questions = append(qn.Questions, q)
	}

	for _, q := range questions {
		if !used[q.ID] {
			warn("question %d is not attached to any questionnaire", q.ID)
			used[q.ID] = true
		}
	}

	for _, id := range order {
		qn := byID[id]
		sort.SliceStable(qn.Questions, func(a, b int) bool {
			return qn.Questions[a].Priority < qn.Questions[b].Priority
		})
		res.Questionnaires = append(res.Questionnaires, *qn)
	}
	return res
}

// readAll 读取表头和全部记录，零记录视为错误
func readAll(file string, r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: invalid csv: %w", file, err)
	}

	var header []string
	var rows [][]string
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", file, ErrEmptyCSV)
	}
	return header, rows, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseID(file string, row int, field, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s row %d: field %q must be an integer, got %q", file, row, field, raw)
	}
	return id, nil
}

func requireValue(file string, row int, fs FieldSet, field, raw string) error {
	if raw != "" {
		return nil
	}
	f, _ := fs.Field(field)
	return &FieldError{File: file, Row: row, Field: field, Aliases: f.Aliases}
}

func ParseQuestionnaires(r io.Reader) ([]Questionnaire, error) {
	header, rows, err := readAll(FileQuestionnaires, r)
	if err != nil {
		return nil, err
	}
	cols, err := QuestionnaireFields.mapColumns(FileQuestionnaires, header)
	if err != nil {
		return nil, err
	}

	out := make([]Questionnaire, 0, len(rows))
	for i, rec := range rows {
		row := i + 2
		rawID := cols.raw(rec, "id")
		if err := requireValue(FileQuestionnaires, row, QuestionnaireFields, "id", rawID); err != nil {
			return nil, err
		}
		id, err := parseID(FileQuestionnaires, row, "id", rawID)
		if err != nil {
			return nil, err
		}
		name := cols.raw(rec, "name")
		if err := requireValue(FileQuestionnaires, row, QuestionnaireFields, "name", name); err != nil {
			return nil, err
		}
		out = append(out, Questionnaire{
			ID:          id,
			Name:        name,
			Description: cols.raw(rec, "description"),
		})
	}
	return out, nil
}

// embeddedQuestion "question" 列内嵌的 JSON 定义
type embeddedQuestion struct {
	Type     string          `json:"type"`
	Question string          `json:"question"`
	Text     string          `json:"text"`
	Options  json.RawMessage `json:"options"`
}

// decodeEmbedded 尝试把 question 列解析为 JSON；失败返回 false，调用方回退为普通列
func decodeEmbedded(raw string) (*embeddedQuestion, bool) {
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var eq embeddedQuestion
	if err := json.Unmarshal([]byte(raw), &eq); err != nil {
		return nil, false
	}
	if eq.Question == "" {
		eq.Question = eq.Text
	}
	return &eq, true
}

func ParseQuestions(r io.Reader) ([]Question, error) {
	header, rows, err := readAll(FileQuestions, r)
	if err != nil {
		return nil, err
	}
	cols, err := QuestionFields.mapColumns(FileQuestions, header)
	if err != nil {
		return nil, err
	}

	out := make([]Question, 0, len(rows))
	for i, rec := range rows {
		row := i + 2
		rawID := cols.raw(rec, "id")
		if err := requireValue(FileQuestions, row, QuestionFields, "id", rawID); err != nil {
			return nil, err
		}
		id, err := parseID(FileQuestions, row, "id", rawID)
		if err != nil {
			return nil, err
		}

		text := cols.raw(rec, "text")
		typ := cols.raw(rec, "type")
		options := ParseOptions(cols.raw(rec, "options"))

		if eq, ok := decodeEmbedded(text); ok {
			text = strings.TrimSpace(eq.Question)
			if eq.Type != "" {
				typ = eq.Type
			}
			if embedded := parseRawOptions(eq.Options); embedded != nil {
				options = embedded
			}
		}

		if err := requireValue(FileQuestions, row, QuestionFields, "text", text); err != nil {
			return nil, err
		}

		q, err := NormalizeQuestion(Question{ID: id, Text: text, Type: typ, Options: options})
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", FileQuestions, row, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func ParseJunctions(r io.Reader) ([]Junction, error) {
	header, rows, err := readAll(FileJunctions, r)
	if err != nil {
		return nil, err
	}
	cols, err := JunctionFields.mapColumns(FileJunctions, header)
	if err != nil {
		return nil, err
	}

	out := make([]Junction, 0, len(rows))
	for i, rec := range rows {
		row := i + 2
		var j Junction
		for _, field := range []string{"questionnaire_id", "question_id"} {
			raw := cols.raw(rec, field)
			if err := requireValue(FileJunctions, row, JunctionFields, field, raw); err != nil {
				return nil, err
			}
			id, err := parseID(FileJunctions, row, field, raw)
			if err != nil {
				return nil, err
			}
			if field == "questionnaire_id" {
				j.QuestionnaireID = id
			} else {
				j.QuestionID = id
			}
		}
		if raw := cols.raw(rec, "priority"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: field %q must be an integer, got %q", FileJunctions, row, "priority", raw)
			}
			j.Priority = p
			j.HasPriority = true
		}
		out = append(out, j)
	}
	return out, nil
}

// ParseOptions 优先按 JSON 数组解析，失败时按逗号拆分并去除空白
func ParseOptions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if opts, ok := decodeOptionArray([]byte(raw)); ok {
		return opts
	}
	parts := strings.Split(raw, ",")
	opts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// parseRawOptions 内嵌 JSON 中的 options 可能是数组，也可能是字符串
func parseRawOptions(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if opts, ok := decodeOptionArray(raw); ok {
		return opts
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseOptions(s)
	}
	return nil
}

// decodeOptionArray 数组元素可以是字符串或数字
func decodeOptionArray(raw []byte) ([]string, bool) {
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	opts := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			opts = append(opts, strings.TrimSpace(v))
		case float64:
			opts = append(opts, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			opts = append(opts, strconv.FormatBool(v))
		case nil:
		default:
			b, _ := json.Marshal(v)
			opts = append(opts, string(b))
		}
	}
	return opts, true
}
