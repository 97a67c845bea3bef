package service

import (
	"context"
	"time"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/util"
)

// QuestionView 作答时展示的题目
type QuestionView struct {
	ID       int64              `json:"id"`
	Text     string             `json:"text"`
	Type     model.QuestionType `json:"type"`
	Options  []string           `json:"options,omitempty"`
	Priority int                `json:"priority"`
}

// QuestionnaireDetail 问卷详情，题目按 priority 升序
type QuestionnaireDetail struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	IsPending   bool           `json:"is_pending"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Questions   []QuestionView `json:"questions"`
}

// QuestionnaireSummary 列表项
type QuestionnaireSummary struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	IsPending     bool       `json:"is_pending"`
	QuestionCount int64      `json:"question_count"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type QuestionnaireService struct {
	Repos *repository.Repositories
	Cache DetailCache
}

func NewQuestionnaireService(repos *repository.Repositories, cache DetailCache) *QuestionnaireService {
	if cache == nil {
		cache = NewQuestionnaireCache(nil, 0)
	}
	return &QuestionnaireService{Repos: repos, Cache: cache}
}

// List 普通用户只能看到已发布问卷；管理员可选择包含待审核问卷
func (s *QuestionnaireService) List(ctx context.Context, userID int64, includePending bool) ([]QuestionnaireSummary, error) {
	qs, err := s.Repos.Questionnaire.List(ctx, includePending)
	if err != nil {
		return nil, util.WrapDBError("list questionnaires", err)
	}

	ids := make([]int64, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	counts, err := s.Repos.Questionnaire.CountQuestions(ctx, ids)
	if err != nil {
		return nil, util.WrapDBError("count questions", err)
	}
	completions, err := s.Repos.Response.ListCompletions(ctx, userID)
	if err != nil {
		return nil, util.WrapDBError("list completions", err)
	}
	completedAt := make(map[int64]time.Time, len(completions))
	for _, c := range completions {
		completedAt[c.QuestionnaireID] = c.CompletedAt
	}

	out := make([]QuestionnaireSummary, 0, len(qs))
	for _, q := range qs {
		item := QuestionnaireSummary{
			ID:            q.ID,
			Name:          q.Name,
			Description:   q.Description,
			IsPending:     q.IsPending,
			QuestionCount: counts[q.ID],
		}
		if t, ok := completedAt[q.ID]; ok {
			t := t
			item.Completed = true
			item.CompletedAt = &t
		}
		out = append(out, item)
	}
	return out, nil
}

// Get 获取问卷详情；非管理员访问待审核问卷视为不存在
func (s *QuestionnaireService) Get(ctx context.Context, id int64, isAdmin bool) (*QuestionnaireDetail, error) {
	if detail, ok := s.Cache.Get(ctx, id); ok {
		if !isAdmin && (detail.IsPending || detail.ID < 0) {
			return nil, util.ErrQuestionnaireNotFound
		}
		return detail, nil
	}

	qn, err := s.Repos.Questionnaire.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrDB("load questionnaire", err)
	}
	links, err := s.Repos.Questionnaire.ListQuestions(ctx, qn.ID)
	if err != nil {
		return nil, util.WrapDBError("load questions", err)
	}

	detail := &QuestionnaireDetail{
		ID:          qn.ID,
		Name:        qn.Name,
		Description: qn.Description,
		IsPending:   qn.IsPending,
		CreatedAt:   qn.CreatedAt,
		UpdatedAt:   qn.UpdatedAt,
		Questions:   questionViews(links),
	}
	s.Cache.Set(ctx, detail)

	if !isAdmin && (detail.IsPending || detail.ID < 0) {
		return nil, util.ErrQuestionnaireNotFound
	}
	return detail, nil
}

func questionViews(links []model.QuestionnaireQuestion) []QuestionView {
	out := make([]QuestionView, 0, len(links))
	for _, link := range links {
		if link.Question == nil {
			continue
		}
		out = append(out, QuestionView{
			ID:       link.Question.ID,
			Text:     link.Question.Text,
			Type:     link.Question.Type,
			Options:  link.Question.OptionList(),
			Priority: link.Priority,
		})
	}
	return out
}

// notFoundOrDB 业务哨兵错误原样返回，其余包装为数据库错误
func notFoundOrDB(op string, err error) error {
	switch err {
	case util.ErrQuestionnaireNotFound, util.ErrQuestionNotFound, util.ErrUserNotFound:
		return err
	}
	return util.WrapDBError(op, err)
}
