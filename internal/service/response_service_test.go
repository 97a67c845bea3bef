package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/testutil"
	"questionnaire_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type responseFixture struct {
	db    *gorm.DB
	svc   *ResponseService
	ctx   context.Context
	alice *util.Claims
	bob   *util.Claims
	admin *util.Claims
}

func claimsFor(u *model.User) *util.Claims {
	return &util.Claims{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// newResponseFixture 问卷 1 与 2 的题目 1、3 文本相同（仅大小写和空白不同）
func newResponseFixture(t *testing.T) *responseFixture {
	db := testutil.NewTestDB(t)
	testutil.CreatePublished(t, db, 1, "Intake",
		testutil.QuestionFixture{ID: 1, Text: "What is your age?", Priority: 1},
		testutil.QuestionFixture{ID: 2, Text: "Allergies?", Type: model.QuestionMultipleChoice, Options: []string{"Pollen", "Dust", "Nuts"}, Priority: 2},
	)
	testutil.CreatePublished(t, db, 2, "Follow-up",
		testutil.QuestionFixture{ID: 3, Text: "  what is your AGE? ", Priority: 1},
		testutil.QuestionFixture{ID: 4, Text: "Current medications?", Priority: 2},
		testutil.QuestionFixture{ID: 5, Text: "allergies?", Type: model.QuestionMultipleChoice, Options: []string{"Pollen", "Dust"}, Priority: 3},
	)

	return &responseFixture{
		db:    db,
		svc:   NewResponseService(repository.NewRepositories(db)),
		ctx:   context.Background(),
		alice: claimsFor(testutil.CreateUser(t, db, "alice", "secret1", false)),
		bob:   claimsFor(testutil.CreateUser(t, db, "bob", "secret2", false)),
		admin: claimsFor(testutil.CreateUser(t, db, "admin", "secret3", true)),
	}
}

func answer(t *testing.T, v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func (f *responseFixture) stored(t *testing.T, userID, questionID int64) string {
	var r model.UserResponse
	require.NoError(t, f.db.Where("user_id = ? AND question_id = ?", userID, questionID).First(&r).Error)
	return r.ResponseText
}

func TestSubmitStoresEncodedAnswers(t *testing.T) {
	f := newResponseFixture(t)

	res, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
		QuestionnaireID: 1,
		Responses: []AnswerInput{
			{QuestionID: 1, Answer: answer(t, "42")},
			{QuestionID: 2, Answer: answer(t, []string{"Pollen", "Dust"})},
		},
		Timezone: TimezoneInput{Name: "Europe/Berlin", Offset: 120},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)

	assert.Equal(t, "42", f.stored(t, f.alice.UserID, 1))
	assert.Equal(t, `["Pollen","Dust"]`, f.stored(t, f.alice.UserID, 2))

	completions, err := f.svc.ListCompletions(f.ctx, f.alice.UserID)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, int64(1), completions[0].QuestionnaireID)
	assert.Equal(t, "Europe/Berlin", completions[0].TimezoneName)
	assert.Equal(t, 120, completions[0].TimezoneOffset)
}

func TestSubmitOverwritesPreviousAnswer(t *testing.T) {
	f := newResponseFixture(t)

	for _, age := range []string{"42", "43"} {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			QuestionnaireID: 1,
			Responses:       []AnswerInput{{QuestionID: 1, Answer: answer(t, age)}},
		})
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, f.db.Model(&model.UserResponse{}).Where("user_id = ?", f.alice.UserID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, "43", f.stored(t, f.alice.UserID, 1))

	var completions int64
	require.NoError(t, f.db.Model(&model.QuestionnaireCompletion{}).Where("user_id = ?", f.alice.UserID).Count(&completions).Error)
	assert.Equal(t, int64(1), completions)
}

func TestSubmitRejections(t *testing.T) {
	f := newResponseFixture(t)
	pending := &model.Questionnaire{Name: "Draft", IsPending: true}
	pending.ID = 9
	require.NoError(t, f.db.Create(pending).Error)

	t.Run("question from another questionnaire", func(t *testing.T) {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			QuestionnaireID: 1,
			Responses:       []AnswerInput{{QuestionID: 1, Answer: answer(t, "42")}, {QuestionID: 4, Answer: answer(t, "none")}},
		})
		var vErr *util.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "responses[1].questionId", vErr.Field)

		// 整个提交回滚
		var count int64
		require.NoError(t, f.db.Model(&model.UserResponse{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("pending questionnaire", func(t *testing.T) {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			QuestionnaireID: 9,
			Responses:       []AnswerInput{{QuestionID: 1, Answer: answer(t, "42")}},
		})
		assert.ErrorIs(t, err, util.ErrQuestionnaireNotFound)
	})

	t.Run("empty responses", func(t *testing.T) {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{QuestionnaireID: 1})
		var vErr *util.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "responses", vErr.Field)
	})

	t.Run("on behalf of another user", func(t *testing.T) {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			UserID:          f.bob.UserID,
			QuestionnaireID: 1,
			Responses:       []AnswerInput{{QuestionID: 1, Answer: answer(t, "42")}},
		})
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
	})

	t.Run("invalid multiple choice answer", func(t *testing.T) {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			QuestionnaireID: 1,
			Responses:       []AnswerInput{{QuestionID: 2, Answer: json.RawMessage(`{"a":1}`)}},
		})
		var vErr *util.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "answer", vErr.Field)
	})
}

func TestAdminSubmitsOnBehalfOfUser(t *testing.T) {
	f := newResponseFixture(t)

	_, err := f.svc.Submit(f.ctx, f.admin, SubmitRequest{
		UserID:          f.bob.UserID,
		QuestionnaireID: 1,
		Responses:       []AnswerInput{{QuestionID: 1, Answer: answer(t, "30")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "30", f.stored(t, f.bob.UserID, 1))
}

func TestPrefill(t *testing.T) {
	f := newResponseFixture(t)
	_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
		QuestionnaireID: 1,
		Responses: []AnswerInput{
			{QuestionID: 1, Answer: answer(t, "42")},
			{QuestionID: 2, Answer: answer(t, []string{"Dust"})},
		},
	})
	require.NoError(t, err)

	t.Run("direct answers", func(t *testing.T) {
		res, err := f.svc.Prefill(f.ctx, f.alice, 1)
		require.NoError(t, err)
		assert.True(t, res.Completed)
		require.Len(t, res.Questions, 2)
		assert.Equal(t, "42", res.Questions[0].Answer)
		assert.False(t, res.Questions[0].FromOtherQuestionnaire)
		assert.Equal(t, []string{"Dust"}, res.Questions[1].Answer)
	})

	t.Run("answers from other questionnaire by text", func(t *testing.T) {
		res, err := f.svc.Prefill(f.ctx, f.alice, 2)
		require.NoError(t, err)
		assert.False(t, res.Completed)
		require.Len(t, res.Questions, 3)

		age := res.Questions[0]
		assert.Equal(t, int64(3), age.ID)
		assert.Equal(t, "42", age.Answer)
		assert.True(t, age.FromOtherQuestionnaire)
		require.NotNil(t, age.SourceQuestionnaireID)
		assert.Equal(t, int64(1), *age.SourceQuestionnaireID)

		assert.Nil(t, res.Questions[1].Answer)
		assert.False(t, res.Questions[1].FromOtherQuestionnaire)

		assert.Equal(t, []string{"Dust"}, res.Questions[2].Answer)
	})

	t.Run("other users see nothing", func(t *testing.T) {
		res, err := f.svc.Prefill(f.ctx, f.bob, 2)
		require.NoError(t, err)
		for _, q := range res.Questions {
			assert.Nil(t, q.Answer)
		}
	})

	t.Run("unknown questionnaire", func(t *testing.T) {
		_, err := f.svc.Prefill(f.ctx, f.alice, 77)
		assert.ErrorIs(t, err, util.ErrQuestionnaireNotFound)
	})
}

func TestDeleteResponses(t *testing.T) {
	f := newResponseFixture(t)
	submit := func() {
		_, err := f.svc.Submit(f.ctx, f.alice, SubmitRequest{
			QuestionnaireID: 1,
			Responses: []AnswerInput{
				{QuestionID: 1, Answer: answer(t, "42")},
				{QuestionID: 2, Answer: answer(t, []string{"Pollen"})},
			},
		})
		require.NoError(t, err)
	}
	submit()

	_, err := f.svc.Delete(f.ctx, f.bob, DeleteResponsesRequest{UserID: f.alice.UserID, QuestionnaireID: 1})
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	n, err := f.svc.Delete(f.ctx, f.alice, DeleteResponsesRequest{UserID: f.alice.UserID, QuestionnaireID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	completions, err := f.svc.ListCompletions(f.ctx, f.alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, completions)

	submit()
	n, err = f.svc.Delete(f.ctx, f.admin, DeleteResponsesRequest{UserID: f.alice.UserID, QuestionnaireID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
