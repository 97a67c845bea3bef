// Package testutil 测试用的内存数据库与固定数据
package testutil

import (
	"context"
	"testing"

	"questionnaire_backend/internal/model"
	"questionnaire_backend/pkg/database"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB 每个测试独占一个已迁移的 sqlite 内存库；内存库随连接存在，只保留一个连接
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// CreateUser 写入一个密码已哈希的用户
func CreateUser(t *testing.T, db *gorm.DB, username, password string, isAdmin bool) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Username: username, PasswordHash: string(hash), IsAdmin: isAdmin}
	require.NoError(t, db.Create(u).Error)
	return u
}

// QuestionFixture 已发布问卷下的一道题
type QuestionFixture struct {
	ID       int64
	Text     string
	Type     model.QuestionType
	Options  []string
	Priority int
}

// CreatePublished 直接写入一个已发布问卷及其题目
func CreatePublished(t *testing.T, db *gorm.DB, id int64, name string, questions ...QuestionFixture) *model.Questionnaire {
	t.Helper()
	qn := &model.Questionnaire{Name: name, Description: name + " description"}
	qn.ID = id
	require.NoError(t, db.Create(qn).Error)

	for _, f := range questions {
		var count int64
		require.NoError(t, db.Model(&model.Question{}).Where("id = ?", f.ID).Count(&count).Error)
		if count == 0 {
			typ := f.Type
			if typ == "" {
				typ = model.QuestionText
			}
			q := &model.Question{ID: f.ID, Text: f.Text, Type: typ, Options: model.EncodeOptions(f.Options)}
			require.NoError(t, db.Create(q).Error)
		}
		link := &model.QuestionnaireQuestion{QuestionnaireID: id, QuestionID: f.ID, Priority: f.Priority}
		require.NoError(t, db.Create(link).Error)
	}
	return qn
}

// LinkedQuestionIDs 问卷关联的题目 ID，按 priority 排序
func LinkedQuestionIDs(t *testing.T, db *gorm.DB, questionnaireID int64) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, db.WithContext(context.Background()).Model(&model.QuestionnaireQuestion{}).
		Where("questionnaire_id = ?", questionnaireID).
		Order("priority asc, question_id asc").
		Pluck("question_id", &ids).Error)
	return ids
}
