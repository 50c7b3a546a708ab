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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

func builderFor(id string, builds *atomic.Int64) func() (*PolicyChain, error) {
	return func() (*PolicyChain, error) {
		builds.Add(1)
		return NewNoop(id, policy.PhaseRequest), nil
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewCache_Defaults(t *testing.T) {
	c := NewCache("api", 0, 0)
	require.NotNil(t, c)

	var builds atomic.Int64
	for i := 0; i < DefaultCacheSize+5; i++ {
		_, _, err := c.GetOrCreate(fmt.Sprintf("k%d", i), builderFor("c", &builds))
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultCacheSize, c.Len())
}

// =============================================================================
// GetOrCreate
// =============================================================================

func TestCache_MissThenHit(t *testing.T) {
	c := NewCache("api", 10, time.Minute)
	var builds atomic.Int64

	first, hit, err := c.GetOrCreate("key", builderFor("c1", &builds))
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCreate("key", builderFor("c2", &builds))
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), builds.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_FailedBuildIsNotCached(t *testing.T) {
	c := NewCache("api", 10, time.Minute)
	boom := errors.New("boom")

	_, _, err := c.GetOrCreate("key", func() (*PolicyChain, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	var builds atomic.Int64
	chain, hit, err := c.GetOrCreate("key", builderFor("c", &builds))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, chain)
	assert.Equal(t, int64(1), builds.Load())
}

func TestCache_NilChainIsAnError(t *testing.T) {
	c := NewCache("api", 10, time.Minute)

	chain, _, err := c.GetOrCreate("key", func() (*PolicyChain, error) { return nil, nil })

	assert.Error(t, err)
	assert.Nil(t, chain)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentMissesBuildOnce(t *testing.T) {
	c := NewCache("api", 10, time.Minute)
	var builds atomic.Int64
	release := make(chan struct{})

	build := func() (*PolicyChain, error) {
		builds.Add(1)
		<-release
		return NewNoop("c", policy.PhaseRequest), nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]*PolicyChain, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chain, _, err := c.GetOrCreate("key", build)
			assert.NoError(t, err)
			results[i] = chain
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, c.Len())
}

// =============================================================================
// Eviction
// =============================================================================

func TestCache_SizeBoundEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache("api", 2, time.Minute)
	var builds atomic.Int64

	_, _, _ = c.GetOrCreate("a", builderFor("a", &builds))
	_, _, _ = c.GetOrCreate("b", builderFor("b", &builds))
	_, ok := c.Get("a")
	require.True(t, ok)
	_, _, _ = c.GetOrCreate("c", builderFor("c", &builds))

	assert.Equal(t, 2, c.Len())
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_IdleEntriesExpire(t *testing.T) {
	c := NewCache("api", 10, 50*time.Millisecond)
	var builds atomic.Int64

	_, _, err := c.GetOrCreate("key", builderFor("c", &builds))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	_, ok := c.Get("key")
	assert.False(t, ok)

	_, hit, err := c.GetOrCreate("key", builderFor("c", &builds))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(2), builds.Load())
}

func TestCache_UseRefreshesIdleTimeout(t *testing.T) {
	c := NewCache("api", 10, 300*time.Millisecond)
	var builds atomic.Int64

	_, _, err := c.GetOrCreate("key", builderFor("c", &builds))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	_, ok := c.Get("key")
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)
	_, ok = c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, int64(1), builds.Load())
}

func TestCache_RemoveAndPurge(t *testing.T) {
	c := NewCache("api", 10, time.Minute)
	var builds atomic.Int64

	_, _, _ = c.GetOrCreate("a", builderFor("a", &builds))
	_, _, _ = c.GetOrCreate("b", builderFor("b", &builds))

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, []string{"b"}, c.Keys())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys())
}

func TestCache_RemoveAndPurgeAreNotEvictions(t *testing.T) {
	c := NewCache("api", 2, time.Minute)
	var builds atomic.Int64

	_, _, _ = c.GetOrCreate("a", builderFor("a", &builds))
	_, _, _ = c.GetOrCreate("b", builderFor("b", &builds))
	_, _, _ = c.GetOrCreate("c", builderFor("c", &builds))
	require.Equal(t, uint64(1), c.Stats().Evictions)

	c.Remove("b")
	c.Purge()

	assert.Equal(t, uint64(1), c.Stats().Evictions)

	_, _, _ = c.GetOrCreate("d", builderFor("d", &builds))
	_, _, _ = c.GetOrCreate("e", builderFor("e", &builds))
	_, _, _ = c.GetOrCreate("f", builderFor("f", &builds))
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}
