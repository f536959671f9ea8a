package telegram

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	chatCacheSize = 512
	chatCacheTTL  = 6 * time.Hour
)

// chatCache @username -> 聊天 ID
type chatCache struct {
	lru *expirable.LRU[string, int64]
}

func newChatCache(size int, ttl time.Duration) *chatCache {
	return &chatCache{lru: expirable.NewLRU[string, int64](size, nil, ttl)}
}

func (c *chatCache) Get(username string) (int64, bool) {
	return c.lru.Get(cacheKey(username))
}

func (c *chatCache) Set(username string, chatID int64) {
	c.lru.Add(cacheKey(username), chatID)
}

func cacheKey(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
