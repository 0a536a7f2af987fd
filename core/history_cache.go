package core

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"lessonlift/models"
)

// HistoryCache 按用户缓存最近的教案列表，任何写操作后失效
type HistoryCache struct {
	c *cache.Cache
}

func NewHistoryCache(ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HistoryCache{c: cache.New(ttl, 2*ttl)}
}

func historyKey(userID uint) string {
	return "history:" + strconv.FormatUint(uint64(userID), 10)
}

func (h *HistoryCache) Get(userID uint) ([]models.LessonView, bool) {
	v, ok := h.c.Get(historyKey(userID))
	if !ok {
		return nil, false
	}
	views, ok := v.([]models.LessonView)
	return views, ok
}

func (h *HistoryCache) Set(userID uint, views []models.LessonView) {
	h.c.SetDefault(historyKey(userID), views)
}

func (h *HistoryCache) Invalidate(userID uint) {
	h.c.Delete(historyKey(userID))
}
