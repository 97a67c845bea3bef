package repository

import (
	"context"
	"errors"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/util"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) FindByID(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	err := r.DB.WithContext(ctx).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionNotFound
	}
	return &q, err
}

func (r *QuestionRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Question, error) {
	res := make(map[int64]model.Question, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var qs []model.Question
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&qs).Error; err != nil {
		return nil, err
	}
	for _, q := range qs {
		res[q.ID] = q
	}
	return res, nil
}

func (r *QuestionRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Question{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	if err := q.Normalize(); err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *QuestionRepository) Save(ctx context.Context, q *model.Question) error {
	if err := q.Normalize(); err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Save(q).Error
}

// DeleteOrphanedNegative 删除不再被任何问卷引用的负数 ID 题目；ids 为空时检查全部负数题目
func (r *QuestionRepository) DeleteOrphanedNegative(ctx context.Context, ids []int64) (int64, error) {
	query := r.DB.WithContext(ctx).
		Where("id < 0").
		Where("NOT EXISTS (SELECT 1 FROM questionnaire_questions qq WHERE qq.question_id = questions.id)")
	if ids != nil {
		if len(ids) == 0 {
			return 0, nil
		}
		query = query.Where("id IN ?", ids)
	}
	res := query.Delete(&model.Question{})
	return res.RowsAffected, res.Error
}
