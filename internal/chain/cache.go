/*
 * Copyright (c) 2026, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package chain

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
)

const (
	// DefaultCacheSize bounds the number of chains kept per API
	DefaultCacheSize = 15

	// DefaultIdleTimeout evicts chains that were not used for this long
	DefaultIdleTimeout = time.Hour
)

// CacheStats is a point-in-time view of cache counters
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Cache memoizes policy chains by key, bounded by size and idle time.
// Every hit refreshes the entry's expiry, so entries expire only after
// IdleTimeout without use.
type Cache struct {
	name  string
	lru   *expirable.LRU[string, *PolicyChain]
	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	// dropping is set while Remove or Purge run; those are not evictions
	dropMu   sync.Mutex
	dropping atomic.Bool
}

// NewCache creates a chain cache. name is used as the metrics label (usually the API id).
func NewCache(name string, size int, idleTimeout time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	c := &Cache{name: name}
	// onEvict runs under the LRU lock: it must not call back into the LRU
	c.lru = expirable.NewLRU[string, *PolicyChain](size, func(string, *PolicyChain) {
		if c.dropping.Load() {
			return
		}
		c.evictions.Add(1)
		metrics.ChainCacheEvictionsTotal.WithLabelValues(name).Inc()
	}, idleTimeout)
	return c
}

// Get returns the cached chain for key, refreshing its idle expiry
func (c *Cache) Get(key string) (*PolicyChain, bool) {
	chain, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	c.lru.Add(key, chain)
	return chain, true
}

// GetOrCreate returns the cached chain for key or builds and caches it.
// Concurrent callers missing on the same key share a single build, so at most
// one chain per key is ever stored. A failed build is not cached.
func (c *Cache) GetOrCreate(key string, build func() (*PolicyChain, error)) (*PolicyChain, bool, error) {
	if chain, ok := c.Get(key); ok {
		c.hits.Add(1)
		metrics.ChainCacheHitsTotal.WithLabelValues(c.name).Inc()
		return chain, true, nil
	}

	c.misses.Add(1)
	metrics.ChainCacheMissesTotal.WithLabelValues(c.name).Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		if chain, ok := c.lru.Peek(key); ok {
			return chain, nil
		}
		chain, err := build()
		if err != nil {
			return nil, err
		}
		if chain == nil {
			return nil, fmt.Errorf("chain builder returned nil for key %s", key)
		}
		c.lru.Add(key, chain)
		metrics.ChainCacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
		return chain, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*PolicyChain), false, nil
}

// Remove drops a single entry
func (c *Cache) Remove(key string) bool {
	var removed bool
	c.drop(func() { removed = c.lru.Remove(key) })
	metrics.ChainCacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
	return removed
}

// Keys returns the live keys from oldest to newest
func (c *Cache) Keys() []string {
	return c.lru.Keys()
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries
func (c *Cache) Purge() {
	c.drop(c.lru.Purge)
	metrics.ChainCacheEntries.WithLabelValues(c.name).Set(0)
}

// drop runs fn with eviction counting suspended
func (c *Cache) drop(fn func()) {
	c.dropMu.Lock()
	defer c.dropMu.Unlock()
	c.dropping.Store(true)
	defer c.dropping.Store(false)
	fn()
}

// Stats returns the cache counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}
