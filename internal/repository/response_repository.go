package repository

import (
	"context"
	"time"

	"questionnaire_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResponseRepository struct {
	DB *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: db}
}

// Upsert 以 (user, questionnaire, question) 为键写入答案
func (r *ResponseRepository) Upsert(ctx context.Context, resp *model.UserResponse) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "questionnaire_id"},
			{Name: "question_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"response_text", "updated_at"}),
	}).Create(resp).Error
}

// UpsertCompletion 冲突时刷新完成时间与时区
func (r *ResponseRepository) UpsertCompletion(ctx context.Context, c *model.QuestionnaireCompletion) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "questionnaire_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed_at", "timezone_name", "timezone_offset"}),
	}).Create(c).Error
}

func (r *ResponseRepository) ListForQuestionnaire(ctx context.Context, userID, questionnaireID int64) ([]model.UserResponse, error) {
	var rs []model.UserResponse
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND questionnaire_id = ?", userID, questionnaireID).
		Find(&rs).Error
	return rs, err
}

// AnsweredQuestion 用户在其他问卷中的作答及题目文本
type AnsweredQuestion struct {
	QuestionnaireID int64
	QuestionID      int64
	QuestionText    string
	QuestionType    model.QuestionType
	ResponseText    string
	AnsweredAt      time.Time
}

// ListAnsweredElsewhere 用户在除 excludeID 以外问卷中的全部作答，最近作答的在前
func (r *ResponseRepository) ListAnsweredElsewhere(ctx context.Context, userID, excludeID int64) ([]AnsweredQuestion, error) {
	var rows []AnsweredQuestion
	err := r.DB.WithContext(ctx).Table("user_responses ur").
		Select("ur.questionnaire_id, ur.question_id, q.text as question_text, q.type as question_type, ur.response_text, ur.updated_at as answered_at").
		Joins("JOIN questions q ON q.id = ur.question_id").
		Where("ur.user_id = ? AND ur.questionnaire_id <> ?", userID, excludeID).
		Order("ur.updated_at desc, ur.id desc").
		Scan(&rows).Error
	return rows, err
}

// DeleteForUser 删除用户在某问卷下的答案和完成记录
func (r *ResponseRepository) DeleteForUser(ctx context.Context, userID, questionnaireID int64) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND questionnaire_id = ?", userID, questionnaireID).
		Delete(&model.UserResponse{})
	if res.Error != nil {
		return 0, res.Error
	}
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND questionnaire_id = ?", userID, questionnaireID).
		Delete(&model.QuestionnaireCompletion{}).Error
	return res.RowsAffected, err
}

// DeleteForQuestionnaire 删除问卷下所有用户的答案和完成记录
func (r *ResponseRepository) DeleteForQuestionnaire(ctx context.Context, questionnaireID int64) error {
	if err := r.DB.WithContext(ctx).Where("questionnaire_id = ?", questionnaireID).Delete(&model.UserResponse{}).Error; err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Where("questionnaire_id = ?", questionnaireID).Delete(&model.QuestionnaireCompletion{}).Error
}

func (r *ResponseRepository) FindCompletion(ctx context.Context, userID, questionnaireID int64) (*model.QuestionnaireCompletion, error) {
	var c model.QuestionnaireCompletion
	err := r.DB.WithContext(ctx).Where("user_id = ? AND questionnaire_id = ?", userID, questionnaireID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ResponseRepository) ListCompletions(ctx context.Context, userID int64) ([]model.QuestionnaireCompletion, error) {
	var cs []model.QuestionnaireCompletion
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("completed_at desc").Find(&cs).Error
	return cs, err
}

// ExportRow 导出用的扁平行
type ExportRow struct {
	UserID            int64
	Username          string
	QuestionnaireID   int64
	QuestionnaireName string
	QuestionText      string
	QuestionType      model.QuestionType
	ResponseText      string
	AnsweredAt        time.Time
}

// ExportRows userID 为 0 时导出全部用户
func (r *ResponseRepository) ExportRows(ctx context.Context, userID int64) ([]ExportRow, error) {
	var rows []ExportRow
	query := r.DB.WithContext(ctx).Table("user_responses ur").
		Select("ur.user_id, u.username, ur.questionnaire_id, qn.name as questionnaire_name, q.text as question_text, q.type as question_type, ur.response_text, ur.updated_at as answered_at").
		Joins("JOIN users u ON u.id = ur.user_id").
		Joins("JOIN questionnaires qn ON qn.id = ur.questionnaire_id").
		Joins("JOIN questions q ON q.id = ur.question_id").
		Joins("LEFT JOIN questionnaire_questions qq ON qq.questionnaire_id = ur.questionnaire_id AND qq.question_id = ur.question_id")
	if userID != 0 {
		query = query.Where("ur.user_id = ?", userID)
	}
	err := query.Order("ur.user_id asc, ur.questionnaire_id asc, qq.priority asc, ur.question_id asc").Scan(&rows).Error
	return rows, err
}
