// Package ttlcache implements the expiring key set used as an idempotency guard
// for inbound events, inbound messages and outbound sends.
package ttlcache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache is an expiring set of string keys. It is safe for concurrent use.
type Cache struct {
	c *cache.Cache
}

// New returns an empty cache. Expired keys are always treated as absent; the
// janitor running every cleanupInterval only reclaims their memory.
func New(cleanupInterval time.Duration) *Cache {
	return &Cache{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

// MarkAndCheck inserts key with the given ttl and reports true when the key was
// not present, meaning the caller should proceed. A false result means the key was
// already seen inside its window and the caller must do nothing.
func (c *Cache) MarkAndCheck(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return c.c.Add(key, struct{}{}, ttl) == nil
}

// Seen reports whether key is currently inside its window without marking it.
func (c *Cache) Seen(key string) bool {
	_, found := c.c.Get(key)
	return found
}

// Forget drops key so the next MarkAndCheck for it succeeds.
func (c *Cache) Forget(key string) {
	c.c.Delete(key)
}

// Len returns the number of stored keys, expired ones included until swept.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
