package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"XtendFM/logger"
	"XtendFM/model"
)

const (
	statusKeyPrefix = "track:status:"
	statusTTL       = 30 * time.Second
)

// StatusCache 缓存track的处理状态，减少状态轮询对数据库的压力。
// 条目同时记录所有者，命中时归属校验不需要回源数据库
type StatusCache struct {
	client *redis.Client
}

// NewStatusCache creates a status cache. A nil client disables caching, which
// keeps tests and single-node dev setups free of a Redis dependency.
func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func statusKey(trackID int64) string {
	return fmt.Sprintf("%s%d", statusKeyPrefix, trackID)
}

func encodeStatusValue(userID int64, status model.Status) string {
	return fmt.Sprintf("%d:%s", userID, status)
}

func decodeStatusValue(val string) (int64, model.Status, bool) {
	ownerPart, statusPart, found := strings.Cut(val, ":")
	if !found {
		return 0, "", false
	}
	owner, err := strconv.ParseInt(ownerPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return owner, model.Status(statusPart), true
}

// Get 获取缓存的所有者和状态，miss或条目损坏时返回false
func (c *StatusCache) Get(ctx context.Context, trackID int64) (int64, model.Status, bool) {
	if c.client == nil {
		return 0, "", false
	}
	val, err := c.client.Get(ctx, statusKey(trackID)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("读取状态缓存失败",
				logger.Int64("trackId", trackID),
				logger.ErrorField(err))
		}
		return 0, "", false
	}
	owner, status, ok := decodeStatusValue(val)
	if !ok {
		logger.Warn("状态缓存条目格式错误，按miss处理",
			logger.Int64("trackId", trackID),
			logger.String("value", val))
		return 0, "", false
	}
	return owner, status, true
}

// Set 写入状态缓存
func (c *StatusCache) Set(ctx context.Context, trackID, userID int64, status model.Status) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, statusKey(trackID), encodeStatusValue(userID, status), statusTTL).Err(); err != nil {
		logger.Warn("写入状态缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}

// Invalidate 使状态缓存失效，在状态变更后调用
func (c *StatusCache) Invalidate(ctx context.Context, trackID int64) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, statusKey(trackID)).Err(); err != nil {
		logger.Warn("删除状态缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}
