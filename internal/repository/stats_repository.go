package repository

import (
	"context"

	"questionnaire_backend/internal/util"

	"gorm.io/gorm"
)

type StatsRepository struct {
	DB *gorm.DB
}

func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{DB: db}
}

// Count 表不存在时按 0 处理（增量迁移期间的兼容）
func (r *StatsRepository) Count(ctx context.Context, m interface{}, query string, args ...interface{}) (int64, error) {
	var total int64
	q := r.DB.WithContext(ctx).Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	err := q.Count(&total).Error
	if util.IsMissingTable(err) {
		return 0, nil
	}
	return total, err
}

type QuestionnaireCompletionStat struct {
	QuestionnaireID int64  `json:"questionnaire_id"`
	Name            string `json:"name"`
	Completions     int64  `json:"completions"`
	Respondents     int64  `json:"respondents"`
}

// CompletionsByQuestionnaire 每个已发布问卷的完成数与答题人数
func (r *StatsRepository) CompletionsByQuestionnaire(ctx context.Context) ([]QuestionnaireCompletionStat, error) {
	var rows []QuestionnaireCompletionStat
	err := r.DB.WithContext(ctx).Table("questionnaires qn").
		Select("qn.id as questionnaire_id, qn.name, " +
			"(SELECT COUNT(*) FROM questionnaire_completions c WHERE c.questionnaire_id = qn.id) as completions, " +
			"(SELECT COUNT(DISTINCT ur.user_id) FROM user_responses ur WHERE ur.questionnaire_id = qn.id) as respondents").
		Where("qn.id > 0 AND qn.is_pending = ?", false).
		Order("qn.id asc").
		Scan(&rows).Error
	if util.IsMissingTable(err) {
		return []QuestionnaireCompletionStat{}, nil
	}
	return rows, err
}
