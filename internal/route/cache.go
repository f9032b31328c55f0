package route

import (
	"sync"
	"time"
)

// Cache 是路由优化器持有的显式缓存实例，没有任何环境级全局状态。
// 并发的重复查询允许各自计算并各自写入，后写覆盖先写。
type Cache interface {
	Get(key string) (*Route, bool)
	Set(key string, route *Route)
}

// TTLCache 是带固定存活时间的内存缓存。
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry
	now     func() time.Time
}

type ttlEntry struct {
	route    *Route
	expireAt time.Time
}

// NewTTLCache 创建缓存，ttl <= 0 时使用 10 分钟。
func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]ttlEntry),
		now:     time.Now,
	}
}

// Get 返回未过期的缓存条目，过期条目顺带删除。
func (c *TTLCache) Get(key string) (*Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expireAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.route, true
}

// Set 写入条目并重置其存活时间。写入是幂等的，后写为准。
func (c *TTLCache) Set(key string, route *Route) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = ttlEntry{route: route, expireAt: c.now().Add(c.ttl)}
}
