package cache

import (
	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tonmultisig_cache_lookups_total",
		Help: "Cache lookups by cache name and result",
	},
	[]string{
		"name",
		"result",
	},
)

// LRU is a size-bounded cache safe for concurrent use.
// Every lookup is counted as a hit or a miss under the cache name.
type LRU[K comparable, V any] struct {
	cache *cache.Cache[K, V]
	name  string
}

func NewLRU[K comparable, V any](size int, name string) *LRU[K, V] {
	return &LRU[K, V]{
		cache: cache.New(cache.AsLRU[K, V](lru.WithCapacity(size))),
		name:  name,
	}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		lookups.WithLabelValues(c.name, "hit").Inc()
		return val, true
	}
	lookups.WithLabelValues(c.name, "miss").Inc()
	return val, false
}

func (c *LRU[K, V]) Set(key K, val V) {
	c.cache.Set(key, val)
}
