package litestorage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	cache "github.com/eko/gocache/v3/cache"
	store "github.com/eko/gocache/v3/store"
)

var ErrorNotFound = errors.New("key not found")

// ttlCache keeps values for a limited time, writes become visible asynchronously.
type ttlCache[T any] struct {
	cache *cache.Cache[T]
	ttl   time.Duration
}

func newTTLCache[T any](maxItems int64, ttl time.Duration) (*ttlCache[T], error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxItems,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ttlCache[T]{cache: cache.New[T](store.NewRistretto(ristrettoCache)), ttl: ttl}, nil
}

func (c *ttlCache[T]) Set(ctx context.Context, key string, value T) error {
	return c.cache.Set(ctx, key, value, store.WithCost(1), store.WithExpiration(c.ttl))
}

func (c *ttlCache[T]) Get(ctx context.Context, key string) (T, error) {
	value, err := c.cache.Get(ctx, key)
	if err != nil {
		var resultObject T
		if strings.Contains(err.Error(), "value not found") {
			return resultObject, ErrorNotFound
		}
		return resultObject, err
	}
	return value, nil
}
