package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repositories 聚合所有仓储，事务内通过 Transaction 获得绑定到 tx 的副本
type Repositories struct {
	DB            *gorm.DB
	User          *UserRepository
	Questionnaire *QuestionnaireRepository
	Question      *QuestionRepository
	Response      *ResponseRepository
	Stats         *StatsRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:            db,
		User:          NewUserRepository(db),
		Questionnaire: NewQuestionnaireRepository(db),
		Question:      NewQuestionRepository(db),
		Response:      NewResponseRepository(db),
		Stats:         NewStatsRepository(db),
	}
}

// Transaction 开启事务执行 fn：fn 返回错误或 panic 时回滚，否则提交；连接总会被释放
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// SyncSequence 显式写入 ID 后同步 postgres 自增序列，其他数据库无需处理
func (r *Repositories) SyncSequence(ctx context.Context, table string) error {
	if r.DB.Dialector.Name() != "postgres" {
		return nil
	}
	sql := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %s), 1))",
		table, table,
	)
	return r.DB.WithContext(ctx).Exec(sql).Error
}
