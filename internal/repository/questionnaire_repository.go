package repository

import (
	"context"
	"errors"
	"strings"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionnaireRepository struct {
	DB *gorm.DB
}

func NewQuestionnaireRepository(db *gorm.DB) *QuestionnaireRepository {
	return &QuestionnaireRepository{DB: db}
}

func (r *QuestionnaireRepository) FindByID(ctx context.Context, id int64) (*model.Questionnaire, error) {
	var q model.Questionnaire
	err := r.DB.WithContext(ctx).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionnaireNotFound
	}
	return &q, err
}

// FindByIDForUpdate 在事务中对问卷行加锁，sqlite 会忽略该子句
func (r *QuestionnaireRepository) FindByIDForUpdate(ctx context.Context, id int64) (*model.Questionnaire, error) {
	var q model.Questionnaire
	err := r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionnaireNotFound
	}
	return &q, err
}

func (r *QuestionnaireRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Questionnaire{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// List includePending 为 false 时只返回已发布的问卷
func (r *QuestionnaireRepository) List(ctx context.Context, includePending bool) ([]model.Questionnaire, error) {
	var qs []model.Questionnaire
	query := r.DB.WithContext(ctx).Model(&model.Questionnaire{})
	if !includePending {
		query = query.Where("is_pending = ? AND id > 0", false)
	}
	err := query.Order("id asc").Find(&qs).Error
	return qs, err
}

func (r *QuestionnaireRepository) ListPending(ctx context.Context) ([]model.Questionnaire, error) {
	var qs []model.Questionnaire
	err := r.DB.WithContext(ctx).Where("is_pending = ?", true).Order("created_at desc, id asc").Find(&qs).Error
	return qs, err
}

// FindSimilarNames 名称忽略大小写完全相同、ID 不同的问卷
func (r *QuestionnaireRepository) FindSimilarNames(ctx context.Context, name string, excludeID int64) ([]model.Questionnaire, error) {
	var qs []model.Questionnaire
	err := r.DB.WithContext(ctx).
		Where("LOWER(name) = ? AND id <> ?", strings.ToLower(strings.TrimSpace(name)), excludeID).
		Order("id asc").
		Find(&qs).Error
	return qs, err
}

func (r *QuestionnaireRepository) Create(ctx context.Context, q *model.Questionnaire) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *QuestionnaireRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.DB.WithContext(ctx).Model(&model.Questionnaire{}).Where("id = ?", id).Updates(fields).Error
}

func (r *QuestionnaireRepository) Delete(ctx context.Context, id int64) error {
	return r.DB.WithContext(ctx).Delete(&model.Questionnaire{}, id).Error
}

// MinID 当前最小的问卷 ID，表为空时返回 0
func (r *QuestionnaireRepository) MinID(ctx context.Context) (int64, error) {
	var min int64
	err := r.DB.WithContext(ctx).Model(&model.Questionnaire{}).Select("COALESCE(MIN(id), 0)").Scan(&min).Error
	return min, err
}

// FindShadowsFor 指向某正式问卷的全部待审核影子行（按 target 或名称匹配）
func (r *QuestionnaireRepository) FindShadowsFor(ctx context.Context, target *model.Questionnaire) ([]model.Questionnaire, error) {
	var qs []model.Questionnaire
	err := r.DB.WithContext(ctx).
		Where("id < 0").
		Where("pending_target_id = ? OR LOWER(name) = ?", target.ID, strings.ToLower(target.Name+model.PendingUpdateSuffix)).
		Find(&qs).Error
	return qs, err
}

// ListQuestions 按 priority 升序返回问卷下的题目
func (r *QuestionnaireRepository) ListQuestions(ctx context.Context, questionnaireID int64) ([]model.QuestionnaireQuestion, error) {
	var links []model.QuestionnaireQuestion
	err := r.DB.WithContext(ctx).
		Preload("Question").
		Where("questionnaire_id = ?", questionnaireID).
		Order("priority asc, id asc").
		Find(&links).Error
	return links, err
}

func (r *QuestionnaireRepository) QuestionIDs(ctx context.Context, questionnaireID int64) ([]int64, error) {
	var ids []int64
	err := r.DB.WithContext(ctx).Model(&model.QuestionnaireQuestion{}).
		Where("questionnaire_id = ?", questionnaireID).
		Pluck("question_id", &ids).Error
	return ids, err
}

// QuestionnairesLinking 关联了任一题目的问卷 ID
func (r *QuestionnaireRepository) QuestionnairesLinking(ctx context.Context, questionIDs []int64) ([]int64, error) {
	var ids []int64
	if len(questionIDs) == 0 {
		return ids, nil
	}
	err := r.DB.WithContext(ctx).Model(&model.QuestionnaireQuestion{}).
		Where("question_id IN ?", questionIDs).
		Distinct("questionnaire_id").
		Pluck("questionnaire_id", &ids).Error
	return ids, err
}

// LinkQuestion 关联题目，已存在时更新 priority
func (r *QuestionnaireRepository) LinkQuestion(ctx context.Context, questionnaireID, questionID int64, priority int) error {
	link := &model.QuestionnaireQuestion{
		QuestionnaireID: questionnaireID,
		QuestionID:      questionID,
		Priority:        priority,
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "questionnaire_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"priority"}),
	}).Create(link).Error
}

func (r *QuestionnaireRepository) UnlinkAll(ctx context.Context, questionnaireID int64) error {
	return r.DB.WithContext(ctx).Where("questionnaire_id = ?", questionnaireID).Delete(&model.QuestionnaireQuestion{}).Error
}

type questionCount struct {
	QuestionnaireID int64
	Total           int64
}

// CountQuestions 每个问卷的题目数量
func (r *QuestionnaireRepository) CountQuestions(ctx context.Context, ids []int64) (map[int64]int64, error) {
	res := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var rows []questionCount
	err := r.DB.WithContext(ctx).Model(&model.QuestionnaireQuestion{}).
		Select("questionnaire_id, COUNT(*) as total").
		Where("questionnaire_id IN ?", ids).
		Group("questionnaire_id").
		Scan(&rows).Error
	for _, row := range rows {
		res[row.QuestionnaireID] = row.Total
	}
	return res, err
}
