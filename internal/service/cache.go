package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"questionnaire_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DetailCache 问卷详情缓存
type DetailCache interface {
	Get(ctx context.Context, id int64) (*QuestionnaireDetail, bool)
	Set(ctx context.Context, detail *QuestionnaireDetail)
	Invalidate(ctx context.Context, ids ...int64)
}

// QuestionnaireCache 基于 Redis 的 DetailCache；rdb 为空时所有操作为空操作
type QuestionnaireCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewQuestionnaireCache(rdb *redis.Client, ttl time.Duration) *QuestionnaireCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QuestionnaireCache{rdb: rdb, ttl: ttl}
}

func questionnaireKey(id int64) string {
	return fmt.Sprintf("questionnaire:detail:%d", id)
}

func (c *QuestionnaireCache) enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *QuestionnaireCache) Get(ctx context.Context, id int64) (*QuestionnaireDetail, bool) {
	if !c.enabled() {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, questionnaireKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Warn("questionnaire cache get failed", zap.Int64("id", id), zap.Error(err))
		}
		return nil, false
	}
	var detail QuestionnaireDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, false
	}
	return &detail, true
}

func (c *QuestionnaireCache) Set(ctx context.Context, detail *QuestionnaireDetail) {
	if !c.enabled() || detail == nil {
		return
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, questionnaireKey(detail.ID), raw, c.ttl).Err(); err != nil {
		logger.Log.Warn("questionnaire cache set failed", zap.Int64("id", detail.ID), zap.Error(err))
	}
}

// Invalidate 导入、审核、重置后调用，重复 ID 只删除一次
func (c *QuestionnaireCache) Invalidate(ctx context.Context, ids ...int64) {
	if !c.enabled() || len(ids) == 0 {
		return
	}
	seen := make(map[int64]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, questionnaireKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Log.Warn("questionnaire cache invalidate failed", zap.Int64s("ids", ids), zap.Error(err))
	}
}
