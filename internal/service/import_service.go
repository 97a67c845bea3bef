package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"questionnaire_backend/internal/importer"
	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/util"
	"questionnaire_backend/pkg/logger"
	"questionnaire_backend/pkg/monitoring"
	"questionnaire_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ImportState string

const (
	StateNew                 ImportState = "NEW"
	StatePendingUpdate       ImportState = "PENDING_UPDATE"
	StateConflictSimilarName ImportState = "CONFLICT_SIMILAR_NAME"
)

const defaultCollisionStep int64 = 1000

// SimilarNameWarning 导入名称与其他 ID 的问卷名称相同（忽略大小写）
type SimilarNameWarning struct {
	ImportName   string `json:"importName"`
	ExistingName string `json:"existingName"`
	ExistingID   int64  `json:"existingId"`
}

// ImportItemResult 单个问卷的导入结果
// QuestionnaireID 为实际写入的行 ID：NEW 时等于导入 ID，PENDING_UPDATE 时为影子行的负数 ID
type ImportItemResult struct {
	ImportID        int64                `json:"import_id"`
	QuestionnaireID int64                `json:"questionnaire_id"`
	Name            string               `json:"name"`
	State           ImportState          `json:"state"`
	States          []ImportState        `json:"states"`
	QuestionCount   int                  `json:"question_count"`
	SimilarNames    []SimilarNameWarning `json:"similarNames,omitempty"`
}

type ImportResult struct {
	BatchID      string               `json:"batch_id"`
	Items        []ImportItemResult   `json:"items"`
	SimilarNames []SimilarNameWarning `json:"similarNames"`
	Warnings     []string             `json:"warnings"`
	Archived     []string             `json:"archived,omitempty"`
}

// ApprovalResult 审核结果；QuestionnaireID 为审核后生效的正式问卷（拒绝时为被删除的行）
type ApprovalResult struct {
	QuestionnaireID  int64       `json:"questionnaire_id"`
	State            ImportState `json:"state"`
	Approved         bool        `json:"approved"`
	MergedQuestions  int         `json:"merged_questions"`
	RemovedQuestions int64       `json:"removed_questions"`
}

type ResetRequest struct {
	QuestionnaireID      int64 `json:"questionnaire_id" binding:"required"`
	PreserveResponses    bool  `json:"preserve_responses"`
	DeletePendingUpdates bool  `json:"delete_pending_updates"`
}

type ResetResult struct {
	QuestionnaireID      int64   `json:"questionnaire_id"`
	ResponsesDeleted     bool    `json:"responses_deleted"`
	DeletedPendingShadow []int64 `json:"deleted_pending_updates"`
}

// PendingQuestionnaire 待审核列表项
type PendingQuestionnaire struct {
	model.Questionnaire
	State         ImportState `json:"state"`
	TargetID      *int64      `json:"target_id,omitempty"`
	QuestionCount int64       `json:"question_count"`
}

// ImportSettings 可热加载的导入参数
type ImportSettings struct {
	CollisionStep int64
	Archive       bool
}

// ImportService 负责问卷导入以及待审核状态的流转
type ImportService struct {
	Repos    *repository.Repositories
	Cache    DetailCache
	Storage  *StorageService
	settings atomic.Pointer[ImportSettings]
}

func NewImportService(repos *repository.Repositories, cache DetailCache, storage *StorageService, collisionStep int64, archive bool) *ImportService {
	if cache == nil {
		cache = NewQuestionnaireCache(nil, 0)
	}
	s := &ImportService{
		Repos:   repos,
		Cache:   cache,
		Storage: storage,
	}
	s.ApplySettings(collisionStep, archive)
	return s
}

// ApplySettings 替换导入参数；进行中的导入继续使用开始时的快照
func (s *ImportService) ApplySettings(collisionStep int64, archive bool) {
	if collisionStep <= 0 {
		collisionStep = defaultCollisionStep
	}
	s.settings.Store(&ImportSettings{CollisionStep: collisionStep, Archive: archive})
}

func (s *ImportService) Settings() ImportSettings {
	return *s.settings.Load()
}

// importRun 单次导入的事务内状态
type importRun struct {
	tx     *repository.Repositories
	result *ImportResult
	step   int64
}

func (r *importRun) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, msg)
	logger.Log.Warn("questionnaire import", zap.String("batch_id", r.result.BatchID), zap.String("warning", msg))
}

// validateImport 规范化题目并校验 ID
func validateImport(items []importer.Questionnaire) ([]importer.Questionnaire, error) {
	if len(items) == 0 {
		return nil, util.NewValidationError("questionnaires", "at least one questionnaire is required")
	}
	out := make([]importer.Questionnaire, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for i, item := range items {
		if item.ID <= 0 {
			return nil, util.NewValidationError(fmt.Sprintf("questionnaires[%d].id", i), "must be a positive integer, got %d", item.ID)
		}
		if seen[item.ID] {
			return nil, util.NewValidationError(fmt.Sprintf("questionnaires[%d].id", i), "questionnaire %d appears more than once", item.ID)
		}
		seen[item.ID] = true
		item.Name = strings.TrimSpace(item.Name)

		questions := make([]importer.Question, 0, len(item.Questions))
		for j, q := range item.Questions {
			if q.ID <= 0 {
				return nil, util.NewValidationError(fmt.Sprintf("questionnaires[%d].questions[%d].id", i, j), "must be a positive integer, got %d", q.ID)
			}
			nq, err := importer.NormalizeQuestion(q)
			if err != nil {
				return nil, util.NewValidationError(fmt.Sprintf("questionnaires[%d].questions[%d]", i, j), "%s", err.Error())
			}
			questions = append(questions, nq)
		}
		item.Questions = questions
		out = append(out, item)
	}
	return out, nil
}

// Import 导入问卷：新 ID 以 NEW 状态写入，已有 ID 生成负数 ID 的影子行等待审核
func (s *ImportService) Import(ctx context.Context, items []importer.Questionnaire) (*ImportResult, error) {
	ctx, span := tracing.Start(ctx, "import.questionnaires")
	defer span.End()

	items, err := validateImport(items)
	if err != nil {
		return nil, err
	}
	settings := s.Settings()

	result := &ImportResult{
		BatchID:      model.GenerateUUID(),
		Items:        []ImportItemResult{},
		SimilarNames: []SimilarNameWarning{},
		Warnings:     []string{},
	}
	span.SetAttributes(attribute.String("import.batch_id", result.BatchID), attribute.Int("import.count", len(items)))

	err = s.Repos.Transaction(ctx, func(tx *repository.Repositories) error {
		run := &importRun{tx: tx, result: result, step: settings.CollisionStep}
		for _, item := range items {
			res, err := run.importOne(ctx, item)
			if err != nil {
				return err
			}
			result.Items = append(result.Items, *res)
			result.SimilarNames = append(result.SimilarNames, res.SimilarNames...)
		}
		if err := tx.SyncSequence(ctx, model.Questionnaire{}.TableName()); err != nil {
			return util.WrapDBError("sync questionnaire sequence", err)
		}
		if err := tx.SyncSequence(ctx, model.Question{}.TableName()); err != nil {
			return util.WrapDBError("sync question sequence", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		logger.Log.Error("questionnaire import failed", zap.String("batch_id", result.BatchID), zap.Error(err))
		return nil, err
	}

	ids := make([]int64, 0, len(result.Items))
	for _, item := range result.Items {
		monitoring.ImportCounter.WithLabelValues(string(item.State)).Inc()
		ids = append(ids, item.ImportID)
	}
	s.Cache.Invalidate(ctx, ids...)

	logger.Log.Info("questionnaire import finished",
		zap.String("batch_id", result.BatchID),
		zap.Int("questionnaires", len(result.Items)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("similar_names", len(result.SimilarNames)),
	)
	return result, nil
}

func (r *importRun) importOne(ctx context.Context, item importer.Questionnaire) (*ImportItemResult, error) {
	existing, err := r.tx.Questionnaire.FindByIDForUpdate(ctx, item.ID)
	if err != nil && !errors.Is(err, util.ErrQuestionnaireNotFound) {
		return nil, util.WrapDBError("load questionnaire", err)
	}

	if item.Name == "" {
		if existing == nil {
			f, _ := importer.QuestionnaireFields.Field("name")
			return nil, util.NewValidationError("name", "questionnaire %d has no name and does not exist yet (accepted columns: %s)",
				item.ID, strings.Join(f.Aliases, ", "))
		}
		item.Name = existing.Name
		if item.Description == "" {
			item.Description = existing.Description
		}
	}

	res := &ImportItemResult{ImportID: item.ID, Name: item.Name}

	similar, err := r.tx.Questionnaire.FindSimilarNames(ctx, item.Name, item.ID)
	if err != nil {
		return nil, util.WrapDBError("find similar names", err)
	}
	for _, q := range similar {
		if q.IsShadow() {
			continue
		}
		res.SimilarNames = append(res.SimilarNames, SimilarNameWarning{
			ImportName:   item.Name,
			ExistingName: q.Name,
			ExistingID:   q.ID,
		})
	}

	if existing == nil {
		err = r.importNew(ctx, item, res)
	} else {
		err = r.importPendingUpdate(ctx, item, existing, res)
	}
	if err != nil {
		return nil, err
	}

	res.States = []ImportState{res.State}
	if len(res.SimilarNames) > 0 {
		res.States = append(res.States, StateConflictSimilarName)
	}
	return res, nil
}

// importNew 以导入 ID 写入待审核问卷；已存在的题目 ID 直接复用
func (r *importRun) importNew(ctx context.Context, item importer.Questionnaire, res *ImportItemResult) error {
	qn := &model.Questionnaire{
		Name:        item.Name,
		Description: item.Description,
		IsPending:   true,
	}
	qn.ID = item.ID
	if err := r.tx.Questionnaire.Create(ctx, qn); err != nil {
		return util.WrapDBError("create questionnaire", err)
	}
	res.QuestionnaireID = qn.ID
	res.State = StateNew

	for _, q := range item.Questions {
		existing, err := r.tx.Question.FindByID(ctx, q.ID)
		if err != nil && !errors.Is(err, util.ErrQuestionNotFound) {
			return util.WrapDBError("load question", err)
		}

		switch {
		case existing != nil:
			if !q.IsReference() && !sameQuestion(existing, q) {
				r.warn("questionnaire %d: question %d already exists with different content, keeping the stored version", item.ID, q.ID)
			}
		case q.IsReference():
			r.warn("questionnaire %d: question %d is referenced but not defined, skipped", item.ID, q.ID)
			continue
		default:
			mq := toModelQuestion(q)
			mq.ID = q.ID
			if err := r.tx.Question.Create(ctx, mq); err != nil {
				return wrapQuestionErr("create question", err)
			}
		}

		if err := r.tx.Questionnaire.LinkQuestion(ctx, qn.ID, q.ID, q.Priority); err != nil {
			return util.WrapDBError("link question", err)
		}
		res.QuestionCount++
	}
	return nil
}

// importPendingUpdate 为已有问卷创建影子行：ID 取 min(MIN(id),0)-1，题目 ID 取 影子ID-原题目ID
func (r *importRun) importPendingUpdate(ctx context.Context, item importer.Questionnaire, target *model.Questionnaire, res *ImportItemResult) error {
	minID, err := r.tx.Questionnaire.MinID(ctx)
	if err != nil {
		return util.WrapDBError("read min questionnaire id", err)
	}
	if minID > 0 {
		minID = 0
	}
	next := minID - 1

	targetID := target.ID
	shadow := &model.Questionnaire{
		Name:            model.StripPendingSuffix(item.Name) + model.PendingUpdateSuffix,
		Description:     item.Description,
		IsPending:       true,
		PendingTargetID: &targetID,
	}
	shadowID, err := r.allocate(ctx, "questionnaire", []int64{next, next - 1},
		r.tx.Questionnaire.Exists,
		func(id int64) error {
			shadow.ID = id
			return r.tx.Questionnaire.Create(ctx, shadow)
		})
	if err != nil {
		return err
	}
	res.QuestionnaireID = shadowID
	res.State = StatePendingUpdate

	for _, q := range item.Questions {
		if q.IsReference() {
			stored, err := r.tx.Question.FindByID(ctx, q.ID)
			if errors.Is(err, util.ErrQuestionNotFound) {
				r.warn("questionnaire %d: question %d is referenced but not defined, skipped", item.ID, q.ID)
				continue
			}
			if err != nil {
				return util.WrapDBError("load question", err)
			}
			q.Text = stored.Text
			q.Type = string(stored.Type)
			q.Options = stored.OptionList()
		}

		origin := q.ID
		base := shadowID - origin
		mq := toModelQuestion(q)
		mq.OriginQuestionID = &origin
		questionID, err := r.allocate(ctx, "question", []int64{base, base - r.step},
			r.tx.Question.Exists,
			func(id int64) error {
				mq.ID = id
				return r.tx.Question.Create(ctx, mq)
			})
		if err != nil {
			return err
		}
		if questionID != base {
			r.warn("questionnaire %d: question id %d was taken, pending copy of question %d stored as %d", item.ID, base, origin, questionID)
		}

		if err := r.tx.Questionnaire.LinkQuestion(ctx, shadowID, questionID, q.Priority); err != nil {
			return util.WrapDBError("link question", err)
		}
		res.QuestionCount++
	}
	return nil
}

// allocate 依次尝试候选 ID；插入在保存点内执行，唯一约束冲突时回滚到保存点再试下一个
func (r *importRun) allocate(ctx context.Context, kind string, candidates []int64, exists func(context.Context, int64) (bool, error), insert func(id int64) error) (int64, error) {
	for i, id := range candidates {
		taken, err := exists(ctx, id)
		if err != nil {
			return 0, util.WrapDBError("check "+kind+" id", err)
		}
		if taken {
			continue
		}

		sp := fmt.Sprintf("alloc_%s_%d", kind, i)
		if err := r.tx.DB.SavePoint(sp).Error; err != nil {
			return 0, util.WrapDBError("savepoint", err)
		}
		err = insert(id)
		if err == nil {
			return id, nil
		}
		if !util.IsDuplicateKey(err) {
			return 0, wrapQuestionErr("create "+kind, err)
		}
		if rbErr := r.tx.DB.RollbackTo(sp).Error; rbErr != nil {
			return 0, util.WrapDBError("rollback to savepoint", rbErr)
		}
		logger.Log.Warn("negative id collision", zap.String("kind", kind), zap.Int64("id", id))
	}
	return 0, fmt.Errorf("%w: %s ids %v are all taken", util.ErrIDAllocation, kind, candidates)
}

func toModelQuestion(q importer.Question) *model.Question {
	return &model.Question{
		Text:    q.Text,
		Type:    model.QuestionType(q.Type),
		Options: model.EncodeOptions(q.Options),
	}
}

func sameQuestion(stored *model.Question, q importer.Question) bool {
	if stored.Text != q.Text || string(stored.Type) != q.Type {
		return false
	}
	opts := stored.OptionList()
	if len(opts) != len(q.Options) {
		return false
	}
	for i := range opts {
		if opts[i] != q.Options[i] {
			return false
		}
	}
	return true
}

// wrapQuestionErr 题目校验错误转为 400，其余按数据库错误处理
func wrapQuestionErr(op string, err error) error {
	if errors.Is(err, model.ErrInvalidOptions) {
		return util.NewValidationError("options", "%s", err.Error())
	}
	return util.WrapDBError(op, err)
}

// Approve 审核待审核问卷
func (s *ImportService) Approve(ctx context.Context, id int64, approve bool) (*ApprovalResult, error) {
	ctx, span := tracing.Start(ctx, "import.approve")
	defer span.End()
	span.SetAttributes(attribute.Int64("questionnaire.id", id), attribute.Bool("approve", approve))

	var result *ApprovalResult
	var touched []int64
	err := s.Repos.Transaction(ctx, func(tx *repository.Repositories) error {
		qn, err := tx.Questionnaire.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !qn.IsShadow() {
			result, err = approveNew(ctx, tx, qn, approve)
			touched = []int64{qn.ID}
			return err
		}
		var linked []int64
		result, linked, err = approvePendingUpdate(ctx, tx, qn, approve)
		touched = append([]int64{qn.ID, qn.TargetID()}, linked...)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	decision := "rejected"
	if approve {
		decision = "approved"
	}
	monitoring.ApprovalCounter.WithLabelValues(string(result.State), decision).Inc()
	s.Cache.Invalidate(ctx, touched...)

	logger.Log.Info("questionnaire "+decision,
		zap.Int64("id", id),
		zap.String("state", string(result.State)),
		zap.Int64("questionnaire_id", result.QuestionnaireID),
		zap.Int("merged_questions", result.MergedQuestions),
	)
	return result, nil
}

func approveNew(ctx context.Context, tx *repository.Repositories, qn *model.Questionnaire, approve bool) (*ApprovalResult, error) {
	if !qn.IsPending {
		return nil, util.ErrNotPending
	}
	result := &ApprovalResult{QuestionnaireID: qn.ID, State: StateNew, Approved: approve}
	if approve {
		if err := tx.Questionnaire.UpdateFields(ctx, qn.ID, map[string]interface{}{"is_pending": false}); err != nil {
			return nil, util.WrapDBError("approve questionnaire", err)
		}
		return result, nil
	}

	if err := tx.Questionnaire.UnlinkAll(ctx, qn.ID); err != nil {
		return nil, util.WrapDBError("delete questionnaire questions", err)
	}
	if err := tx.Response.DeleteForQuestionnaire(ctx, qn.ID); err != nil {
		return nil, util.WrapDBError("delete questionnaire responses", err)
	}
	if err := tx.Questionnaire.Delete(ctx, qn.ID); err != nil {
		return nil, util.WrapDBError("delete questionnaire", err)
	}
	return result, nil
}

// approvePendingUpdate 通过时把影子题目按原始 ID 合并回正式问卷；无论通过与否都删除影子行
// 合并会改写共享的题目行，返回所有关联这些题目的问卷 ID 供缓存失效
func approvePendingUpdate(ctx context.Context, tx *repository.Repositories, shadow *model.Questionnaire, approve bool) (*ApprovalResult, []int64, error) {
	targetID := shadow.TargetID()
	result := &ApprovalResult{QuestionnaireID: targetID, State: StatePendingUpdate, Approved: approve}

	links, err := tx.Questionnaire.ListQuestions(ctx, shadow.ID)
	if err != nil {
		return nil, nil, util.WrapDBError("load pending questions", err)
	}
	shadowQuestionIDs := make([]int64, 0, len(links))
	for _, link := range links {
		shadowQuestionIDs = append(shadowQuestionIDs, link.QuestionID)
	}

	var mergedIDs, linked []int64
	if approve {
		target, err := tx.Questionnaire.FindByIDForUpdate(ctx, targetID)
		if errors.Is(err, util.ErrQuestionnaireNotFound) {
			return nil, nil, fmt.Errorf("%w: questionnaire %d", util.ErrPendingTargetMissing, targetID)
		}
		if err != nil {
			return nil, nil, util.WrapDBError("load original questionnaire", err)
		}

		for _, link := range links {
			if link.Question == nil {
				continue
			}
			if err := mergeQuestion(ctx, tx, target.ID, link); err != nil {
				return nil, nil, err
			}
			mergedIDs = append(mergedIDs, link.Question.OriginID())
			result.MergedQuestions++
		}

		err = tx.Questionnaire.UpdateFields(ctx, target.ID, map[string]interface{}{
			"name":        model.StripPendingSuffix(shadow.Name),
			"description": shadow.Description,
			"is_pending":  false,
		})
		if err != nil {
			return nil, nil, util.WrapDBError("update original questionnaire", err)
		}
		linked, err = tx.Questionnaire.QuestionnairesLinking(ctx, mergedIDs)
		if err != nil {
			return nil, nil, util.WrapDBError("find questionnaires sharing merged questions", err)
		}
	} else {
		result.QuestionnaireID = shadow.ID
	}

	if err := tx.Questionnaire.UnlinkAll(ctx, shadow.ID); err != nil {
		return nil, nil, util.WrapDBError("delete pending questions", err)
	}
	if err := tx.Questionnaire.Delete(ctx, shadow.ID); err != nil {
		return nil, nil, util.WrapDBError("delete pending questionnaire", err)
	}
	removed, err := tx.Question.DeleteOrphanedNegative(ctx, shadowQuestionIDs)
	if err != nil {
		return nil, nil, util.WrapDBError("delete orphaned pending questions", err)
	}
	result.RemovedQuestions = removed
	return result, linked, nil
}

// mergeQuestion 以原始 ID upsert 题目内容，再 upsert 正式问卷的关联和 priority
func mergeQuestion(ctx context.Context, tx *repository.Repositories, targetID int64, link model.QuestionnaireQuestion) error {
	src := link.Question
	originID := src.OriginID()

	q, err := tx.Question.FindByID(ctx, originID)
	switch {
	case errors.Is(err, util.ErrQuestionNotFound):
		q = &model.Question{ID: originID, Text: src.Text, Type: src.Type, Options: src.Options}
		if err := tx.Question.Create(ctx, q); err != nil {
			return wrapQuestionErr("create question", err)
		}
	case err != nil:
		return util.WrapDBError("load original question", err)
	default:
		q.Text = src.Text
		q.Type = src.Type
		q.Options = src.Options
		q.OriginQuestionID = nil
		if err := tx.Question.Save(ctx, q); err != nil {
			return wrapQuestionErr("save question", err)
		}
	}

	if err := tx.Questionnaire.LinkQuestion(ctx, targetID, originID, link.Priority); err != nil {
		return util.WrapDBError("link question", err)
	}
	return nil
}

// Reset 清空问卷题目关联，可选删除答案和待审核更新，并将问卷恢复为已发布状态
func (s *ImportService) Reset(ctx context.Context, req ResetRequest) (*ResetResult, error) {
	ctx, span := tracing.Start(ctx, "import.reset")
	defer span.End()

	result := &ResetResult{QuestionnaireID: req.QuestionnaireID, DeletedPendingShadow: []int64{}}
	var linked []int64
	err := s.Repos.Transaction(ctx, func(tx *repository.Repositories) error {
		qn, err := tx.Questionnaire.FindByIDForUpdate(ctx, req.QuestionnaireID)
		if err != nil {
			return err
		}
		if err := tx.Questionnaire.UnlinkAll(ctx, qn.ID); err != nil {
			return util.WrapDBError("delete questionnaire questions", err)
		}
		if !req.PreserveResponses {
			if err := tx.Response.DeleteForQuestionnaire(ctx, qn.ID); err != nil {
				return util.WrapDBError("delete questionnaire responses", err)
			}
			result.ResponsesDeleted = true
		}
		if err := tx.Questionnaire.UpdateFields(ctx, qn.ID, map[string]interface{}{"is_pending": false}); err != nil {
			return util.WrapDBError("reset questionnaire", err)
		}

		if !req.DeletePendingUpdates {
			return nil
		}
		shadows, err := tx.Questionnaire.FindShadowsFor(ctx, qn)
		if err != nil {
			return util.WrapDBError("find pending updates", err)
		}
		var questionIDs []int64
		for _, sh := range shadows {
			ids, err := tx.Questionnaire.QuestionIDs(ctx, sh.ID)
			if err != nil {
				return util.WrapDBError("load pending questions", err)
			}
			questionIDs = append(questionIDs, ids...)
		}
		// 影子题目也可能被其他问卷引用，这些问卷的缓存一并失效
		linked, err = tx.Questionnaire.QuestionnairesLinking(ctx, questionIDs)
		if err != nil {
			return util.WrapDBError("find questionnaires sharing pending questions", err)
		}
		for _, sh := range shadows {
			if err := tx.Questionnaire.UnlinkAll(ctx, sh.ID); err != nil {
				return util.WrapDBError("delete pending questions", err)
			}
			if err := tx.Questionnaire.Delete(ctx, sh.ID); err != nil {
				return util.WrapDBError("delete pending questionnaire", err)
			}
			result.DeletedPendingShadow = append(result.DeletedPendingShadow, sh.ID)
		}
		if questionIDs == nil {
			questionIDs = []int64{}
		}
		if _, err := tx.Question.DeleteOrphanedNegative(ctx, questionIDs); err != nil {
			return util.WrapDBError("delete orphaned pending questions", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	touched := append([]int64{req.QuestionnaireID}, result.DeletedPendingShadow...)
	s.Cache.Invalidate(ctx, append(touched, linked...)...)
	logger.Log.Info("questionnaire reset",
		zap.Int64("id", req.QuestionnaireID),
		zap.Bool("preserve_responses", req.PreserveResponses),
		zap.Int64s("deleted_pending_updates", result.DeletedPendingShadow),
	)
	return result, nil
}

// ListPending 所有待审核问卷（新导入与待审核更新）
func (s *ImportService) ListPending(ctx context.Context) ([]PendingQuestionnaire, error) {
	qs, err := s.Repos.Questionnaire.ListPending(ctx)
	if err != nil {
		return nil, util.WrapDBError("list pending questionnaires", err)
	}
	ids := make([]int64, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	counts, err := s.Repos.Questionnaire.CountQuestions(ctx, ids)
	if err != nil {
		return nil, util.WrapDBError("count questions", err)
	}

	out := make([]PendingQuestionnaire, 0, len(qs))
	for _, q := range qs {
		item := PendingQuestionnaire{Questionnaire: q, State: StateNew, QuestionCount: counts[q.ID]}
		if q.IsShadow() {
			target := q.TargetID()
			item.State = StatePendingUpdate
			item.TargetID = &target
		}
		out = append(out, item)
	}
	return out, nil
}

// CSVUpload 上传的三个 CSV 原文
type CSVUpload struct {
	Questionnaires []byte
	Questions      []byte
	Junctions      []byte
}

// ImportCSV 解析 CSV 后导入；开启归档时按批次保存原始文件
func (s *ImportService) ImportCSV(ctx context.Context, upload CSVUpload) (*ImportResult, error) {
	archive := s.Settings().Archive
	parsed, err := importer.Parse(importer.Sources{
		Questionnaires: strings.NewReader(string(upload.Questionnaires)),
		Questions:      strings.NewReader(string(upload.Questions)),
		Junctions:      strings.NewReader(string(upload.Junctions)),
	})
	if err != nil {
		return nil, util.NewValidationError("csv", "%s", err.Error())
	}

	result, err := s.Import(ctx, parsed.Questionnaires)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(append([]string{}, parsed.Warnings...), result.Warnings...)

	if archive && s.Storage != nil {
		result.Archived = s.archiveUpload(ctx, result.BatchID, upload)
	}
	return result, nil
}

// archiveUpload 归档三个文件；任一失败时删除本批次已写入的文件，不保留残缺批次
func (s *ImportService) archiveUpload(ctx context.Context, batchID string, upload CSVUpload) []string {
	files := []struct {
		name string
		data []byte
	}{
		{importer.FileQuestionnaires, upload.Questionnaires},
		{importer.FileQuestions, upload.Questions},
		{importer.FileJunctions, upload.Junctions},
	}

	var archived, urls []string
	for _, f := range files {
		url, err := s.Storage.ArchiveImport(ctx, batchID, f.name, f.data)
		if err != nil {
			logger.Log.Warn("archive import file failed", zap.String("batch_id", batchID), zap.String("file", f.name), zap.Error(err))
			for _, name := range archived {
				if err := s.Storage.DeleteArchive(ctx, batchID, name); err != nil {
					logger.Log.Warn("remove partial import archive failed", zap.String("batch_id", batchID), zap.String("file", name), zap.Error(err))
				}
			}
			return nil
		}
		archived = append(archived, f.name)
		urls = append(urls, url)
	}
	return urls
}
