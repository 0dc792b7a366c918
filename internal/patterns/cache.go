package patterns

import (
	"container/list"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// cacheDigest produces a cheap fixed-size key for a scan input. blake2b is
// faster than sha256 on typical page-text sizes and collision-safe enough
// for a cache key.
func cacheDigest(text string, ctx Context, categories []Category) string {
	var b strings.Builder
	b.WriteString(ctx.cacheKey())
	b.WriteByte('|')
	for _, c := range categories {
		b.WriteString(string(c))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(text)
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// scanCache is a bounded LRU over scan results. Rules are static per
// version, so entries never expire; reloading rules clears the cache
// wholesale before the new rules are installed.
type scanCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	res Result
}

func newScanCache(capacity int) *scanCache {
	if capacity < 1 {
		capacity = 1
	}
	return &scanCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

func (c *scanCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Result{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(cacheEntry).res, true
}

func (c *scanCache) put(key string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value = cacheEntry{key: key, res: res}
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(cacheEntry{key: key, res: res})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(cacheEntry).key)
	}
}

func (c *scanCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.cap)
}

func (c *scanCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
