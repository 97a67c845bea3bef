package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/importer"
	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/testutil"
	"questionnaire_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type importFixture struct {
	db    *gorm.DB
	repos *repository.Repositories
	imp   *ImportService
	qnSvc *QuestionnaireService
	ctx   context.Context
}

func newImportFixture(t *testing.T) *importFixture {
	db := testutil.NewTestDB(t)
	repos := repository.NewRepositories(db)
	cache := NewQuestionnaireCache(nil, 0)
	return &importFixture{
		db:    db,
		repos: repos,
		imp:   NewImportService(repos, cache, nil, 0, false),
		qnSvc: NewQuestionnaireService(repos, cache),
		ctx:   context.Background(),
	}
}

// publishHealth 已发布问卷 1，题目 1 与 3
func (f *importFixture) publishHealth(t *testing.T) {
	testutil.CreatePublished(t, f.db, 1, "Health",
		testutil.QuestionFixture{ID: 1, Text: "Age?", Priority: 1},
		testutil.QuestionFixture{ID: 3, Text: "Smoker?", Type: model.QuestionMultipleChoice, Options: []string{"Yes", "No"}, Priority: 2},
	)
}

func (f *importFixture) questionnaire(t *testing.T, id int64) *model.Questionnaire {
	var qn model.Questionnaire
	err := f.db.First(&qn, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &qn
}

func (f *importFixture) question(t *testing.T, id int64) *model.Question {
	var q model.Question
	err := f.db.First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &q
}

func (f *importFixture) negativeQuestionCount(t *testing.T) int64 {
	var n int64
	require.NoError(t, f.db.Model(&model.Question{}).Where("id < 0").Count(&n).Error)
	return n
}

func healthUpdate() importer.Questionnaire {
	return importer.Questionnaire{
		ID:          1,
		Name:        "Health v2",
		Description: "revised",
		Questions: []importer.Question{
			{ID: 1, Text: "Age in years?", Type: "text", Priority: 1},
			{ID: 3, Text: "Do you smoke?", Type: "multiple_choice", Options: []string{"Yes", "No", "Sometimes"}, Priority: 2},
			{ID: 5, Text: "Height?", Type: "text", Priority: 3},
		},
	}
}

func TestImportNewQuestionnaireHiddenUntilApproved(t *testing.T) {
	f := newImportFixture(t)

	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID:   10,
		Name: "Sleep",
		Questions: []importer.Question{
			{ID: 20, Text: "Hours per night?", Type: "text", Priority: 1},
			{ID: 21, Text: "Quality?", Type: "multiple_choice", Options: []string{"Good", "Bad"}, Priority: 2},
		},
	}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, StateNew, item.State)
	assert.Equal(t, []ImportState{StateNew}, item.States)
	assert.Equal(t, int64(10), item.QuestionnaireID)
	assert.Equal(t, 2, item.QuestionCount)
	assert.NotEmpty(t, res.BatchID)

	qn := f.questionnaire(t, 10)
	require.NotNil(t, qn)
	assert.True(t, qn.IsPending)

	_, err = f.qnSvc.Get(f.ctx, 10, false)
	assert.ErrorIs(t, err, util.ErrQuestionnaireNotFound)
	list, err := f.qnSvc.List(f.ctx, 0, false)
	require.NoError(t, err)
	assert.Empty(t, list)

	detail, err := f.qnSvc.Get(f.ctx, 10, true)
	require.NoError(t, err)
	assert.True(t, detail.IsPending)

	approval, err := f.imp.Approve(f.ctx, 10, true)
	require.NoError(t, err)
	assert.Equal(t, StateNew, approval.State)
	assert.True(t, approval.Approved)

	detail, err = f.qnSvc.Get(f.ctx, 10, false)
	require.NoError(t, err)
	assert.False(t, detail.IsPending)
	require.Len(t, detail.Questions, 2)
	assert.Equal(t, "Hours per night?", detail.Questions[0].Text)
	assert.Equal(t, []string{"Good", "Bad"}, detail.Questions[1].Options)
}

func TestImportRejectNewDeletesQuestionnaire(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID: 10, Name: "Sleep",
		Questions: []importer.Question{{ID: 20, Text: "Hours?", Priority: 1}},
	}})
	require.NoError(t, err)

	res, err := f.imp.Approve(f.ctx, 10, false)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Nil(t, f.questionnaire(t, 10))
	assert.Empty(t, testutil.LinkedQuestionIDs(t, f.db, 10))
}

func TestImportExistingCreatesShadow(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, StatePendingUpdate, item.State)
	assert.Equal(t, int64(-1), item.QuestionnaireID)
	assert.Equal(t, 3, item.QuestionCount)

	shadow := f.questionnaire(t, -1)
	require.NotNil(t, shadow)
	assert.Equal(t, "Health v2 (PENDING UPDATE)", shadow.Name)
	assert.True(t, shadow.IsPending)
	require.NotNil(t, shadow.PendingTargetID)
	assert.Equal(t, int64(1), *shadow.PendingTargetID)

	// 影子题目 ID = 影子问卷 ID - 原题目 ID
	assert.Equal(t, []int64{-2, -4, -6}, testutil.LinkedQuestionIDs(t, f.db, -1))
	q := f.question(t, -4)
	require.NotNil(t, q)
	assert.Equal(t, int64(3), q.OriginID())
	assert.Equal(t, []string{"Yes", "No", "Sometimes"}, q.OptionList())

	original := f.questionnaire(t, 1)
	assert.Equal(t, "Health", original.Name)
	assert.False(t, original.IsPending)
	assert.Equal(t, []int64{1, 3}, testutil.LinkedQuestionIDs(t, f.db, 1))
	assert.Equal(t, "Age?", f.question(t, 1).Text)
	assert.Nil(t, f.question(t, 5))
}

func TestImportShadowIDsKeepDecreasing(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	first, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	second, err := f.imp.Import(f.ctx, []importer.Questionnaire{{ID: 1, Name: "Health v3"}})
	require.NoError(t, err)

	assert.Equal(t, int64(-1), first.Items[0].QuestionnaireID)
	assert.Equal(t, int64(-2), second.Items[0].QuestionnaireID)
	assert.NotNil(t, f.questionnaire(t, -1))
}

func TestImportShadowQuestionCollision(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)
	testutil.CreatePublished(t, f.db, 2, "Diet", testutil.QuestionFixture{ID: 2, Text: "Vegetarian?", Priority: 1})

	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)

	// 影子 -2 的题目 2 应得到 -4，已被占用，回退到 -4-1000
	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID: 2, Name: "Diet",
		Questions: []importer.Question{{ID: 2, Text: "Are you vegetarian?", Priority: 1}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), res.Items[0].QuestionnaireID)
	assert.Equal(t, []int64{-1004}, testutil.LinkedQuestionIDs(t, f.db, -2))
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "-1004")
}

func TestImportCollisionStepIsConfigurable(t *testing.T) {
	f := newImportFixture(t)
	f.imp.ApplySettings(50, false)
	f.publishHealth(t)
	testutil.CreatePublished(t, f.db, 2, "Diet", testutil.QuestionFixture{ID: 2, Text: "Vegetarian?", Priority: 1})

	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	_, err = f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID: 2, Name: "Diet",
		Questions: []importer.Question{{ID: 2, Text: "Vegetarian?", Priority: 1}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{-54}, testutil.LinkedQuestionIDs(t, f.db, -2))
}

func TestImportIDAllocationExhausted(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)
	testutil.CreatePublished(t, f.db, 2, "Diet", testutil.QuestionFixture{ID: 2, Text: "Vegetarian?", Priority: 1})
	require.NoError(t, f.db.Create(&model.Question{ID: -4, Text: "taken", Type: model.QuestionText}).Error)
	require.NoError(t, f.db.Create(&model.Question{ID: -1004, Text: "taken", Type: model.QuestionText}).Error)

	// 影子 -1 的题目 3 -> -4 与 -1004 都被占用
	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrIDAllocation)

	// 整个导入回滚
	assert.Nil(t, f.questionnaire(t, -1))
	assert.Nil(t, f.question(t, -2))
}

func TestApprovePendingUpdateMergesIntoOriginal(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)
	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)

	res, err := f.imp.Approve(f.ctx, -1, true)
	require.NoError(t, err)
	assert.Equal(t, StatePendingUpdate, res.State)
	assert.Equal(t, int64(1), res.QuestionnaireID)
	assert.Equal(t, 3, res.MergedQuestions)
	assert.Equal(t, int64(3), res.RemovedQuestions)

	original := f.questionnaire(t, 1)
	assert.Equal(t, "Health v2", original.Name)
	assert.Equal(t, "revised", original.Description)
	assert.False(t, original.IsPending)
	assert.Equal(t, []int64{1, 3, 5}, testutil.LinkedQuestionIDs(t, f.db, 1))

	assert.Equal(t, "Age in years?", f.question(t, 1).Text)
	smoke := f.question(t, 3)
	assert.Equal(t, []string{"Yes", "No", "Sometimes"}, smoke.OptionList())
	assert.Nil(t, smoke.OriginQuestionID)
	assert.Equal(t, "Height?", f.question(t, 5).Text)

	assert.Nil(t, f.questionnaire(t, -1))
	assert.Empty(t, testutil.LinkedQuestionIDs(t, f.db, -1))
	assert.Zero(t, f.negativeQuestionCount(t))
}

func TestRejectPendingUpdateLeavesOriginalUntouched(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)
	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)

	res, err := f.imp.Approve(f.ctx, -1, false)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, int64(-1), res.QuestionnaireID)

	original := f.questionnaire(t, 1)
	assert.Equal(t, "Health", original.Name)
	assert.Equal(t, []int64{1, 3}, testutil.LinkedQuestionIDs(t, f.db, 1))
	assert.Equal(t, "Age?", f.question(t, 1).Text)
	assert.Nil(t, f.question(t, 5))

	assert.Nil(t, f.questionnaire(t, -1))
	assert.Zero(t, f.negativeQuestionCount(t))
}

func TestApproveErrors(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	_, err := f.imp.Approve(f.ctx, 1, true)
	assert.ErrorIs(t, err, util.ErrNotPending)

	_, err = f.imp.Approve(f.ctx, 99, true)
	assert.ErrorIs(t, err, util.ErrQuestionnaireNotFound)

	_, err = f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	require.NoError(t, f.db.Delete(&model.Questionnaire{}, 1).Error)

	_, err = f.imp.Approve(f.ctx, -1, true)
	assert.ErrorIs(t, err, util.ErrPendingTargetMissing)
	// 失败的审核不应删除影子行
	assert.NotNil(t, f.questionnaire(t, -1))
}

func TestImportSimilarNames(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{{ID: 2, Name: "  HEALTH "}})
	require.NoError(t, err)

	item := res.Items[0]
	assert.Equal(t, []ImportState{StateNew, StateConflictSimilarName}, item.States)
	require.Len(t, res.SimilarNames, 1)
	assert.Equal(t, SimilarNameWarning{ImportName: "HEALTH", ExistingName: "Health", ExistingID: 1}, res.SimilarNames[0])
}

func TestImportValidation(t *testing.T) {
	f := newImportFixture(t)

	cases := []struct {
		name  string
		items []importer.Questionnaire
		field string
	}{
		{"empty", nil, "questionnaires"},
		{"non positive id", []importer.Questionnaire{{ID: 0, Name: "x"}}, "questionnaires[0].id"},
		{"duplicate id", []importer.Questionnaire{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}, "questionnaires[1].id"},
		{"negative question id", []importer.Questionnaire{{ID: 1, Name: "a", Questions: []importer.Question{{ID: -3, Text: "q"}}}}, "questionnaires[0].questions[0].id"},
		{"choice without options", []importer.Questionnaire{{ID: 1, Name: "a", Questions: []importer.Question{{ID: 3, Text: "q", Type: "multiple_choice"}}}}, "questionnaires[0].questions[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.imp.Import(f.ctx, tc.items)
			var vErr *util.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestImportRollsBackOnLaterFailure(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{
		{ID: 10, Name: "Sleep", Questions: []importer.Question{{ID: 20, Text: "Hours?"}}},
		{ID: 11},
	})
	var vErr *util.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "name", vErr.Field)

	assert.Nil(t, f.questionnaire(t, 10))
	assert.Nil(t, f.question(t, 20))
}

func TestImportNewReusesExistingQuestions(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID: 7, Name: "Follow-up",
		Questions: []importer.Question{
			{ID: 1, Priority: 1},
			{ID: 3, Text: "Smoker now?", Type: "multiple_choice", Options: []string{"Yes", "No"}, Priority: 2},
			{ID: 99, Priority: 3},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items[0].QuestionCount)
	assert.Equal(t, []int64{1, 3}, testutil.LinkedQuestionIDs(t, f.db, 7))
	// 已有题目内容不会被 NEW 导入覆盖
	assert.Equal(t, "Smoker?", f.question(t, 3).Text)

	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "question 3 already exists")
	assert.Contains(t, joined, "question 99 is referenced but not defined")
}

func TestImportNamelessUpdateKeepsExistingName(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	res, err := f.imp.Import(f.ctx, []importer.Questionnaire{{
		ID:        1,
		Questions: []importer.Question{{ID: 1, Priority: 1}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Health", res.Items[0].Name)

	shadow := f.questionnaire(t, -1)
	assert.Equal(t, "Health (PENDING UPDATE)", shadow.Name)
	assert.Equal(t, "Health description", shadow.Description)
	// 仅引用的题目复制已保存的内容
	assert.Equal(t, "Age?", f.question(t, -2).Text)
}

func TestResetQuestionnaire(t *testing.T) {
	setup := func(t *testing.T) *importFixture {
		f := newImportFixture(t)
		f.publishHealth(t)
		user := testutil.CreateUser(t, f.db, "alice", "secret1", false)
		require.NoError(t, f.db.Create(&model.UserResponse{UserID: user.ID, QuestionnaireID: 1, QuestionID: 1, ResponseText: "42"}).Error)
		require.NoError(t, f.db.Create(&model.QuestionnaireCompletion{UserID: user.ID, QuestionnaireID: 1}).Error)
		_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
		require.NoError(t, err)
		return f
	}
	responses := func(t *testing.T, f *importFixture) int64 {
		var n int64
		require.NoError(t, f.db.Model(&model.UserResponse{}).Where("questionnaire_id = ?", 1).Count(&n).Error)
		return n
	}

	t.Run("full reset", func(t *testing.T) {
		f := setup(t)
		res, err := f.imp.Reset(f.ctx, ResetRequest{QuestionnaireID: 1, DeletePendingUpdates: true})
		require.NoError(t, err)
		assert.True(t, res.ResponsesDeleted)
		assert.Equal(t, []int64{-1}, res.DeletedPendingShadow)

		assert.Empty(t, testutil.LinkedQuestionIDs(t, f.db, 1))
		assert.Zero(t, responses(t, f))
		assert.Nil(t, f.questionnaire(t, -1))
		assert.Zero(t, f.negativeQuestionCount(t))
		assert.False(t, f.questionnaire(t, 1).IsPending)
	})

	t.Run("preserve responses and pending updates", func(t *testing.T) {
		f := setup(t)
		res, err := f.imp.Reset(f.ctx, ResetRequest{QuestionnaireID: 1, PreserveResponses: true})
		require.NoError(t, err)
		assert.False(t, res.ResponsesDeleted)
		assert.Empty(t, res.DeletedPendingShadow)

		assert.Empty(t, testutil.LinkedQuestionIDs(t, f.db, 1))
		assert.Equal(t, int64(1), responses(t, f))
		assert.NotNil(t, f.questionnaire(t, -1))
	})

	t.Run("unknown questionnaire", func(t *testing.T) {
		f := newImportFixture(t)
		_, err := f.imp.Reset(f.ctx, ResetRequest{QuestionnaireID: 42})
		assert.ErrorIs(t, err, util.ErrQuestionnaireNotFound)
	})
}

func TestListPending(t *testing.T) {
	f := newImportFixture(t)
	f.publishHealth(t)

	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{
		healthUpdate(),
		{ID: 10, Name: "Sleep", Questions: []importer.Question{{ID: 20, Text: "Hours?"}}},
	})
	require.NoError(t, err)

	pending, err := f.imp.ListPending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byID := make(map[int64]PendingQuestionnaire, len(pending))
	for _, p := range pending {
		byID[p.ID] = p
	}
	shadow := byID[-1]
	assert.Equal(t, StatePendingUpdate, shadow.State)
	require.NotNil(t, shadow.TargetID)
	assert.Equal(t, int64(1), *shadow.TargetID)
	assert.Equal(t, int64(3), shadow.QuestionCount)

	fresh := byID[10]
	assert.Equal(t, StateNew, fresh.State)
	assert.Nil(t, fresh.TargetID)
	assert.Equal(t, int64(1), fresh.QuestionCount)
}

func TestImportCSVArchivesUploads(t *testing.T) {
	f := newImportFixture(t)
	dir := t.TempDir()
	f.imp.Storage = NewStorageService(&config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: dir}})
	f.imp.ApplySettings(0, true)

	upload := CSVUpload{
		Questionnaires: []byte("questionnaire_id,title\n1,Health\n"),
		Questions:      []byte("question_id,question_text,question_type,choices\n1,Age?,text,\n2,Smoker?,multiple_choice,\"Yes,No\"\n3,Unused?,text,\n"),
		Junctions:      []byte("questionnaire_id,question_id,priority\n1,2,2\n1,1,1\n"),
	}
	res, err := f.imp.ImportCSV(f.ctx, upload)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, StateNew, res.Items[0].State)
	assert.Equal(t, []int64{1, 2}, testutil.LinkedQuestionIDs(t, f.db, 1))
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "question 3 is not attached")

	require.Len(t, res.Archived, 3)
	stored, err := os.ReadFile(filepath.Join(dir, "imports", res.BatchID, importer.FileQuestionnaires))
	require.NoError(t, err)
	assert.Equal(t, upload.Questionnaires, stored)
}

func TestImportCSVParseError(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.imp.ImportCSV(f.ctx, CSVUpload{
		Questionnaires: []byte("id,description\n1,x\n"),
		Questions:      []byte("id,text\n1,Age?\n"),
		Junctions:      []byte("questionnaire_id,question_id\n1,1\n"),
	})
	var vErr *util.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "csv", vErr.Field)
	assert.Contains(t, vErr.Message, `missing required field "name"`)
}

// memoryCache 进程内 DetailCache，记录失效的 ID
type memoryCache struct {
	details     map[int64]*QuestionnaireDetail
	invalidated []int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{details: map[int64]*QuestionnaireDetail{}}
}

func (c *memoryCache) Get(ctx context.Context, id int64) (*QuestionnaireDetail, bool) {
	d, ok := c.details[id]
	return d, ok
}

func (c *memoryCache) Set(ctx context.Context, detail *QuestionnaireDetail) {
	c.details[detail.ID] = detail
}

func (c *memoryCache) Invalidate(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		delete(c.details, id)
	}
	c.invalidated = append(c.invalidated, ids...)
}

func TestApproveInvalidatesQuestionnairesSharingMergedQuestions(t *testing.T) {
	f := newImportFixture(t)
	cache := newMemoryCache()
	f.imp = NewImportService(f.repos, cache, nil, 0, false)
	f.qnSvc = NewQuestionnaireService(f.repos, cache)
	f.publishHealth(t)
	// 问卷 2 与问卷 1 共用题目 3
	testutil.CreatePublished(t, f.db, 2, "Lifestyle",
		testutil.QuestionFixture{ID: 3, Priority: 1},
		testutil.QuestionFixture{ID: 7, Text: "Exercise?", Priority: 2},
	)

	before, err := f.qnSvc.Get(f.ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yes", "No"}, before.Questions[0].Options)

	_, err = f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	cache.invalidated = nil

	_, err = f.imp.Approve(f.ctx, -1, true)
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, int64(1))
	assert.Contains(t, cache.invalidated, int64(2))

	after, err := f.qnSvc.Get(f.ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yes", "No", "Sometimes"}, after.Questions[0].Options)
}

func TestResetInvalidatesQuestionnairesSharingPendingQuestions(t *testing.T) {
	f := newImportFixture(t)
	cache := newMemoryCache()
	f.imp = NewImportService(f.repos, cache, nil, 0, false)
	f.publishHealth(t)
	_, err := f.imp.Import(f.ctx, []importer.Questionnaire{healthUpdate()})
	require.NoError(t, err)
	// 另一个待审核问卷引用了影子题目 -4
	pending := &model.Questionnaire{Name: "Draft", IsPending: true}
	pending.ID = 20
	require.NoError(t, f.db.Create(pending).Error)
	require.NoError(t, f.db.Create(&model.QuestionnaireQuestion{QuestionnaireID: 20, QuestionID: -4, Priority: 1}).Error)
	cache.invalidated = nil

	res, err := f.imp.Reset(f.ctx, ResetRequest{QuestionnaireID: 1, PreserveResponses: true, DeletePendingUpdates: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{-1}, res.DeletedPendingShadow)
	assert.Contains(t, cache.invalidated, int64(1))
	assert.Contains(t, cache.invalidated, int64(20))
	// 仍被引用的影子题目保留
	assert.NotNil(t, f.question(t, -4))
	assert.Nil(t, f.question(t, -2))
}

// flakyStorage 第 failAt 次上传失败，记录删除的对象
type flakyStorage struct {
	failAt  int
	uploads int
	stored  map[string][]byte
	deleted []string
}

func (p *flakyStorage) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	p.uploads++
	if p.uploads == p.failAt {
		return "", errors.New("bucket unavailable")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	p.stored[filename] = buf.Bytes()
	return p.GetURL(filename), nil
}

func (p *flakyStorage) Delete(ctx context.Context, filename string) error {
	p.deleted = append(p.deleted, filename)
	delete(p.stored, filename)
	return nil
}

func (p *flakyStorage) GetURL(filename string) string {
	return "/archive/" + filename
}

func TestImportCSVRemovesPartialArchive(t *testing.T) {
	f := newImportFixture(t)
	storage := &flakyStorage{failAt: 3, stored: map[string][]byte{}}
	f.imp.Storage = &StorageService{Provider: storage}
	f.imp.ApplySettings(0, true)

	res, err := f.imp.ImportCSV(f.ctx, CSVUpload{
		Questionnaires: []byte("id,name\n1,Health\n"),
		Questions:      []byte("id,text\n1,Age?\n"),
		Junctions:      []byte("questionnaire_id,question_id\n1,1\n"),
	})
	require.NoError(t, err)
	// 导入本身不受归档失败影响
	assert.Equal(t, []int64{1}, testutil.LinkedQuestionIDs(t, f.db, 1))
	assert.Empty(t, res.Archived)
	assert.Empty(t, storage.stored)
	assert.ElementsMatch(t, []string{
		"imports/" + res.BatchID + "/" + importer.FileQuestionnaires,
		"imports/" + res.BatchID + "/" + importer.FileQuestions,
	}, storage.deleted)
}

func TestImportSettingsDefaults(t *testing.T) {
	f := newImportFixture(t)
	assert.Equal(t, ImportSettings{CollisionStep: 1000, Archive: false}, f.imp.Settings())

	f.imp.ApplySettings(-5, true)
	assert.Equal(t, ImportSettings{CollisionStep: 1000, Archive: true}, f.imp.Settings())
}
