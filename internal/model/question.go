package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionMultipleChoice QuestionType = "multiple_choice"
)

func (t QuestionType) Valid() bool {
	return t == QuestionText || t == QuestionMultipleChoice
}

var ErrInvalidOptions = errors.New("multiple_choice questions require a JSON array of options")

// Question 题目
// 负数 ID 的题目只属于待审核的影子问卷，OriginQuestionID 记录它要覆盖的正式题目
// swagger:model Question
type Question struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Text             string         `gorm:"type:text;not null" json:"text"`
	Type             QuestionType   `gorm:"size:32;not null;default:'text'" json:"type"`
	Options          datatypes.JSON `json:"options,omitempty" swaggertype:"array,string"`
	OriginQuestionID *int64         `gorm:"index" json:"-"`
}

func (Question) TableName() string {
	return "questions"
}

// Normalize 保证 options 非空且为 JSON 数组当且仅当类型为 multiple_choice
func (q *Question) Normalize() error {
	if !q.Type.Valid() {
		return fmt.Errorf("invalid question type %q", q.Type)
	}
	if q.Type != QuestionMultipleChoice {
		q.Options = nil
		return nil
	}
	if len(q.Options) == 0 {
		return ErrInvalidOptions
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return ErrInvalidOptions
	}
	return nil
}

// OptionList 解析 options
func (q *Question) OptionList() []string {
	if len(q.Options) == 0 {
		return nil
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil
	}
	return opts
}

// OriginID 影子题目对应的正式题目 ID
func (q *Question) OriginID() int64 {
	if q.OriginQuestionID != nil {
		return *q.OriginQuestionID
	}
	if q.ID < 0 {
		return -q.ID
	}
	return q.ID
}

func EncodeOptions(opts []string) datatypes.JSON {
	if opts == nil {
		return nil
	}
	b, _ := json.Marshal(opts)
	return datatypes.JSON(b)
}
