package model

import "strings"

// PendingUpdateSuffix 待审核更新的影子问卷名称后缀
const PendingUpdateSuffix = " (PENDING UPDATE)"

// Questionnaire 问卷
// ID < 0 表示这是一个待审核更新的影子行，PendingTargetID 指向被更新的正式问卷
// swagger:model Questionnaire
type Questionnaire struct {
	BaseModel
	Name            string `gorm:"size:255;not null" json:"name"`
	Description     string `gorm:"type:text" json:"description"`
	IsPending       bool   `gorm:"default:false;index" json:"is_pending"`
	PendingTargetID *int64 `gorm:"index" json:"pending_target_id,omitempty"`
}

func (Questionnaire) TableName() string {
	return "questionnaires"
}

// IsShadow 是否为待审核更新的影子行
func (q *Questionnaire) IsShadow() bool {
	return q.ID < 0
}

// TargetID 返回影子行对应的正式问卷 ID
func (q *Questionnaire) TargetID() int64 {
	if q.PendingTargetID != nil {
		return *q.PendingTargetID
	}
	if q.ID < 0 {
		return -q.ID
	}
	return q.ID
}

// StripPendingSuffix 去掉名称末尾的 (PENDING UPDATE)
func StripPendingSuffix(name string) string {
	return strings.TrimSpace(strings.TrimSuffix(name, PendingUpdateSuffix))
}

// QuestionnaireQuestion 问卷与题目的关联，Priority 升序即作答顺序
type QuestionnaireQuestion struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestionnaireID int64          `gorm:"not null;uniqueIndex:idx_questionnaire_question" json:"questionnaire_id"`
	QuestionID      int64          `gorm:"not null;uniqueIndex:idx_questionnaire_question;index" json:"question_id"`
	Priority        int            `gorm:"default:0" json:"priority"`
	Question        *Question      `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"question,omitempty"`
	Questionnaire   *Questionnaire `gorm:"foreignKey:QuestionnaireID;constraint:OnDelete:CASCADE" json:"-"`
}

func (QuestionnaireQuestion) TableName() string {
	return "questionnaire_questions"
}
