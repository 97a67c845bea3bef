package model

import "time"

// UserResponse 用户对某问卷某题的作答，(user, questionnaire, question) 唯一
// multiple_choice 的答案以 JSON 字符串数组保存
// swagger:model UserResponse
type UserResponse struct {
	BaseModel
	UserID          int64  `gorm:"not null;uniqueIndex:idx_user_questionnaire_question" json:"user_id"`
	QuestionnaireID int64  `gorm:"not null;uniqueIndex:idx_user_questionnaire_question;index" json:"questionnaire_id"`
	QuestionID      int64  `gorm:"not null;uniqueIndex:idx_user_questionnaire_question" json:"question_id"`
	ResponseText    string `gorm:"type:text" json:"response_text"`

	User          *User          `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Questionnaire *Questionnaire `gorm:"foreignKey:QuestionnaireID;constraint:OnDelete:CASCADE" json:"-"`
	Question      *Question      `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (UserResponse) TableName() string {
	return "user_responses"
}

// QuestionnaireCompletion 标记用户完成了某问卷
// swagger:model QuestionnaireCompletion
type QuestionnaireCompletion struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"not null;uniqueIndex:idx_user_questionnaire" json:"user_id"`
	QuestionnaireID int64     `gorm:"not null;uniqueIndex:idx_user_questionnaire;index" json:"questionnaire_id"`
	CompletedAt     time.Time `json:"completed_at"`
	TimezoneName    string    `gorm:"size:64" json:"timezone_name"`
	TimezoneOffset  int       `json:"timezone_offset"`

	User          *User          `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Questionnaire *Questionnaire `gorm:"foreignKey:QuestionnaireID;constraint:OnDelete:CASCADE" json:"-"`
}

func (QuestionnaireCompletion) TableName() string {
	return "questionnaire_completions"
}

// AllModels 自动迁移的模型列表
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Questionnaire{},
		&Question{},
		&QuestionnaireQuestion{},
		&UserResponse{},
		&QuestionnaireCompletion{},
	}
}
