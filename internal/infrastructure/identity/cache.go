package identity

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 10_000
	defaultCacheTTL  = 5 * time.Minute
)

// Cached remembers successful resolutions for ttl. Failures are not cached so
// a token issued after a miss works immediately.
type Cached struct {
	next  Resolver
	cache *expirable.LRU[string, string]
}

func NewCached(next Resolver, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *Cached) ResolveOwner(ctx context.Context, token string) (string, error) {
	if owner, ok := c.cache.Get(token); ok {
		return owner, nil
	}

	owner, err := c.next.ResolveOwner(ctx, token)
	if err != nil {
		return "", err
	}
	c.cache.Add(token, owner)
	return owner, nil
}

func (c *Cached) Purge() {
	c.cache.Purge()
}
