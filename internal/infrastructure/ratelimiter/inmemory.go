package ratelimiter

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultInMemorySize = 100_000

type inMemoryEntry struct {
	value     int
	expiresAt time.Time
}

// InMemory keeps bucket state in a bounded LRU. When more source keys are
// active than it can hold, the least recently seen start over with a full
// bucket.
type InMemory struct {
	entries *expirable.LRU[string, inMemoryEntry]
	now     func() time.Time
}

// NewInMemory holds at most size keys, each for at most maxTTL. A zero size
// picks a default, a zero maxTTL keeps entries until they are evicted.
func NewInMemory(size int, maxTTL time.Duration) *InMemory {
	if size <= 0 {
		size = defaultInMemorySize
	}
	return &InMemory{
		entries: expirable.NewLRU[string, inMemoryEntry](size, nil, maxTTL),
		now:     time.Now,
	}
}

func (i *InMemory) Get(key string) (int, error) {
	entry, ok := i.entries.Get(key)
	if !ok {
		return 0, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && i.now().After(entry.expiresAt) {
		i.entries.Remove(key)
		return 0, ErrCacheMiss
	}
	return entry.value, nil
}

func (i *InMemory) Set(key string, value int) error {
	return i.SetWithExpiration(key, value, 0)
}

func (i *InMemory) SetWithExpiration(key string, value int, expiration time.Duration) error {
	entry := inMemoryEntry{value: value}
	if expiration > 0 {
		entry.expiresAt = i.now().Add(expiration)
	}
	i.entries.Add(key, entry)
	return nil
}

func (i *InMemory) Len() int {
	return i.entries.Len()
}

func (i *InMemory) Close() error {
	i.entries.Purge()
	return nil
}
