package service

import (
	"context"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/util"
)

type DashboardStats struct {
	Users                 int64                                    `json:"users"`
	Questionnaires        int64                                    `json:"questionnaires"`
	PendingQuestionnaires int64                                    `json:"pending_questionnaires"`
	PendingUpdates        int64                                    `json:"pending_updates"`
	Questions             int64                                    `json:"questions"`
	Responses             int64                                    `json:"responses"`
	Completions           int64                                    `json:"completions"`
	ByQuestionnaire       []repository.QuestionnaireCompletionStat `json:"by_questionnaire"`
}

type AdminService struct {
	Repos *repository.Repositories
}

func NewAdminService(repos *repository.Repositories) *AdminService {
	return &AdminService{Repos: repos}
}

// DashboardStats 管理后台统计
func (s *AdminService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{}
	counts := []struct {
		dst   *int64
		model interface{}
		query string
		args  []interface{}
	}{
		{&stats.Users, &model.User{}, "", nil},
		{&stats.Questionnaires, &model.Questionnaire{}, "id > 0 AND is_pending = ?", []interface{}{false}},
		{&stats.PendingQuestionnaires, &model.Questionnaire{}, "id > 0 AND is_pending = ?", []interface{}{true}},
		{&stats.PendingUpdates, &model.Questionnaire{}, "id < 0", nil},
		{&stats.Questions, &model.Question{}, "id > 0", nil},
		{&stats.Responses, &model.UserResponse{}, "", nil},
		{&stats.Completions, &model.QuestionnaireCompletion{}, "", nil},
	}
	for _, c := range counts {
		n, err := s.Repos.Stats.Count(ctx, c.model, c.query, c.args...)
		if err != nil {
			return nil, util.WrapDBError("dashboard stats", err)
		}
		*c.dst = n
	}

	byQn, err := s.Repos.Stats.CompletionsByQuestionnaire(ctx)
	if err != nil {
		return nil, util.WrapDBError("dashboard stats", err)
	}
	stats.ByQuestionnaire = byQn
	return stats, nil
}

// ExportRecord 导出的一行答案
type ExportRecord struct {
	UserID        int64  `json:"userId"`
	Username      string `json:"username"`
	Questionnaire string `json:"questionnaire"`
	Question      string `json:"question"`
	Response      string `json:"response"`
	Date          string `json:"date"`
}

// UserResponses userID 为 0 时导出全部用户的答案；多选题答案以 ", " 连接
func (s *AdminService) UserResponses(ctx context.Context, userID int64) ([]ExportRecord, error) {
	if userID != 0 {
		if _, err := s.Repos.User.FindByID(ctx, userID); err != nil {
			return nil, notFoundOrDB("find user", err)
		}
	}
	rows, err := s.Repos.Response.ExportRows(ctx, userID)
	if err != nil {
		return nil, util.WrapDBError("export responses", err)
	}
	out := make([]ExportRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ExportRecord{
			UserID:        r.UserID,
			Username:      r.Username,
			Questionnaire: r.QuestionnaireName,
			Question:      r.QuestionText,
			Response:      FormatAnswer(r.QuestionType, r.ResponseText),
			Date:          r.AnsweredAt.Format(util.TimeFormat),
		})
	}
	return out, nil
}
