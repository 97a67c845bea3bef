package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/util"
	"questionnaire_backend/pkg/logger"
	"questionnaire_backend/pkg/monitoring"
	"questionnaire_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AnswerInput struct {
	QuestionID int64           `json:"questionId" binding:"required"`
	Answer     json.RawMessage `json:"answer" swaggertype:"object"`
}

type TimezoneInput struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
}

// SubmitRequest 提交答案；UserID 只允许管理员代填
type SubmitRequest struct {
	UserID          int64         `json:"userId"`
	QuestionnaireID int64         `json:"questionnaireId" binding:"required"`
	Responses       []AnswerInput `json:"responses"`
	Timezone        TimezoneInput `json:"timezone"`
}

type SubmitResult struct {
	QuestionnaireID int64     `json:"questionnaireId"`
	Saved           int       `json:"saved"`
	CompletedAt     time.Time `json:"completedAt"`
}

type DeleteResponsesRequest struct {
	UserID          int64 `json:"userId" binding:"required"`
	QuestionnaireID int64 `json:"questionnaireId" binding:"required"`
}

// PrefilledQuestion 带预填答案的题目；Answer 为 null 表示没有可用答案
type PrefilledQuestion struct {
	QuestionView
	Answer                 interface{} `json:"answer"`
	FromOtherQuestionnaire bool        `json:"fromOtherQuestionnaire"`
	SourceQuestionnaireID  *int64      `json:"sourceQuestionnaireId,omitempty"`
}

type PrefillResult struct {
	QuestionnaireID int64               `json:"questionnaireId"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	Completed       bool                `json:"completed"`
	Questions       []PrefilledQuestion `json:"questions"`
}

type ResponseService struct {
	Repos *repository.Repositories
}

func NewResponseService(repos *repository.Repositories) *ResponseService {
	return &ResponseService{Repos: repos}
}

// loadPublished 普通用户只能作答已发布问卷
func (s *ResponseService) loadPublished(ctx context.Context, repos *repository.Repositories, id int64, isAdmin bool) (*model.Questionnaire, error) {
	qn, err := repos.Questionnaire.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrDB("load questionnaire", err)
	}
	if !isAdmin && (qn.IsPending || qn.IsShadow()) {
		return nil, util.ErrQuestionnaireNotFound
	}
	return qn, nil
}

// Submit 在一个事务中 upsert 全部答案并写入完成记录
func (s *ResponseService) Submit(ctx context.Context, actor *util.Claims, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := tracing.Start(ctx, "responses.submit")
	defer span.End()

	userID := actor.UserID
	if req.UserID != 0 && req.UserID != actor.UserID {
		if !actor.IsAdmin {
			return nil, util.ErrPermissionDenied
		}
		userID = req.UserID
	}
	if len(req.Responses) == 0 {
		return nil, util.NewValidationError("responses", "at least one response is required")
	}
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.Int64("questionnaire.id", req.QuestionnaireID))

	now := time.Now()
	result := &SubmitResult{QuestionnaireID: req.QuestionnaireID, CompletedAt: now}
	err := s.Repos.Transaction(ctx, func(tx *repository.Repositories) error {
		qn, err := s.loadPublished(ctx, tx, req.QuestionnaireID, actor.IsAdmin)
		if err != nil {
			return err
		}
		links, err := tx.Questionnaire.ListQuestions(ctx, qn.ID)
		if err != nil {
			return util.WrapDBError("load questions", err)
		}
		types := make(map[int64]model.QuestionType, len(links))
		for _, link := range links {
			if link.Question != nil {
				types[link.QuestionID] = link.Question.Type
			}
		}

		for i, in := range req.Responses {
			qType, ok := types[in.QuestionID]
			if !ok {
				return util.NewValidationError(fmt.Sprintf("responses[%d].questionId", i),
					"question %d does not belong to questionnaire %d", in.QuestionID, qn.ID)
			}
			text, err := EncodeAnswer(qType, in.Answer)
			if err != nil {
				return err
			}
			resp := &model.UserResponse{
				UserID:          userID,
				QuestionnaireID: qn.ID,
				QuestionID:      in.QuestionID,
				ResponseText:    text,
			}
			if err := tx.Response.Upsert(ctx, resp); err != nil {
				return util.WrapDBError("save response", err)
			}
			result.Saved++
		}

		err = tx.Response.UpsertCompletion(ctx, &model.QuestionnaireCompletion{
			UserID:          userID,
			QuestionnaireID: qn.ID,
			CompletedAt:     now,
			TimezoneName:    req.Timezone.Name,
			TimezoneOffset:  req.Timezone.Offset,
		})
		return util.WrapDBError("save completion", err)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	monitoring.SubmissionCounter.Inc()
	logger.Log.Info("questionnaire submitted",
		zap.Int64("user_id", userID),
		zap.Int64("questionnaire_id", req.QuestionnaireID),
		zap.Int("responses", result.Saved),
	)
	return result, nil
}

// Delete 删除用户在某问卷下的答案与完成记录，只允许本人或管理员操作
func (s *ResponseService) Delete(ctx context.Context, actor *util.Claims, req DeleteResponsesRequest) (int64, error) {
	if actor.UserID != req.UserID && !actor.IsAdmin {
		return 0, util.ErrPermissionDenied
	}
	var deleted int64
	err := s.Repos.Transaction(ctx, func(tx *repository.Repositories) error {
		n, err := tx.Response.DeleteForUser(ctx, req.UserID, req.QuestionnaireID)
		deleted = n
		return util.WrapDBError("delete responses", err)
	})
	if err != nil {
		return 0, err
	}
	logger.Log.Info("responses deleted",
		zap.Int64("actor_id", actor.UserID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("questionnaire_id", req.QuestionnaireID),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

// Prefill 先取本问卷的已有答案，否则取其他问卷中题目文本相同（忽略大小写）的最新答案
func (s *ResponseService) Prefill(ctx context.Context, actor *util.Claims, questionnaireID int64) (*PrefillResult, error) {
	qn, err := s.loadPublished(ctx, s.Repos, questionnaireID, actor.IsAdmin)
	if err != nil {
		return nil, err
	}
	links, err := s.Repos.Questionnaire.ListQuestions(ctx, qn.ID)
	if err != nil {
		return nil, util.WrapDBError("load questions", err)
	}
	direct, err := s.Repos.Response.ListForQuestionnaire(ctx, actor.UserID, qn.ID)
	if err != nil {
		return nil, util.WrapDBError("load responses", err)
	}
	elsewhere, err := s.Repos.Response.ListAnsweredElsewhere(ctx, actor.UserID, qn.ID)
	if err != nil {
		return nil, util.WrapDBError("load other responses", err)
	}
	completed := true
	if _, err := s.Repos.Response.FindCompletion(ctx, actor.UserID, qn.ID); errors.Is(err, gorm.ErrRecordNotFound) {
		completed = false
	} else if err != nil {
		return nil, util.WrapDBError("load completion", err)
	}

	byQuestion := make(map[int64]string, len(direct))
	for _, r := range direct {
		byQuestion[r.QuestionID] = r.ResponseText
	}
	// 已按作答时间倒序，保留每个文本的第一条即最新答案
	byText := make(map[string]repository.AnsweredQuestion, len(elsewhere))
	for _, a := range elsewhere {
		key := textKey(a.QuestionText)
		if _, seen := byText[key]; !seen {
			byText[key] = a
		}
	}

	result := &PrefillResult{
		QuestionnaireID: qn.ID,
		Name:            qn.Name,
		Description:     qn.Description,
		Completed:       completed,
		Questions:       make([]PrefilledQuestion, 0, len(links)),
	}
	for _, view := range questionViews(links) {
		item := PrefilledQuestion{QuestionView: view}
		if text, ok := byQuestion[view.ID]; ok {
			item.Answer = DecodeAnswer(view.Type, text)
		} else if a, ok := byText[textKey(view.Text)]; ok {
			src := a.QuestionnaireID
			item.Answer = DecodeAnswer(a.QuestionType, a.ResponseText)
			item.FromOtherQuestionnaire = true
			item.SourceQuestionnaireID = &src
		}
		result.Questions = append(result.Questions, item)
	}
	return result, nil
}

func textKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ListCompletions 当前用户的完成记录
func (s *ResponseService) ListCompletions(ctx context.Context, userID int64) ([]model.QuestionnaireCompletion, error) {
	cs, err := s.Repos.Response.ListCompletions(ctx, userID)
	if err != nil {
		return nil, util.WrapDBError("list completions", err)
	}
	return cs, nil
}
