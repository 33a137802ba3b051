// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cpg/syntax"
)

func tag(name string, version uint64) VersionTag {
	return VersionTag{
		Key:     syntax.RoutineKey{Module: "m", Name: name, Arity: 0},
		Version: version,
	}
}

func TestPutAndGet(t *testing.T) {
	m := NewManager(WithLimitBytes(1000))
	ctx := context.Background()

	require.True(t, m.Put(ctx, "a", tag("f", 1), 100, "payload"))
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(100), stats.UsedBytes)
	assert.Equal(t, 1, stats.Entries)
}

func TestPutReplacesExisting(t *testing.T) {
	m := NewManager(WithLimitBytes(1000))
	ctx := context.Background()

	require.True(t, m.Put(ctx, "a", tag("f", 1), 100, "old"))
	require.True(t, m.Put(ctx, "a", tag("f", 1), 200, "new"))

	v, _ := m.Get("a")
	assert.Equal(t, "new", v)
	assert.Equal(t, int64(200), m.Stats().UsedBytes, "the replaced entry's bytes are released")
}

func TestPutRejectsBadSizes(t *testing.T) {
	m := NewManager(WithLimitBytes(100))
	ctx := context.Background()

	assert.False(t, m.Put(ctx, "zero", tag("f", 1), 0, nil))
	assert.False(t, m.Put(ctx, "negative", tag("f", 1), -5, nil))
	assert.False(t, m.Put(ctx, "huge", tag("f", 1), 101, nil),
		"an artifact larger than the budget is rejected, not evicting everything")
	assert.Equal(t, int64(3), m.Stats().Rejected)
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestLRUEvictionAtHighWater(t *testing.T) {
	// High water at 80 of 100 bytes.
	m := NewManager(WithLimitBytes(100), WithThresholds(0.80, 0.95))
	ctx := context.Background()

	require.True(t, m.Put(ctx, "a", tag("f", 1), 30, "a"))
	require.True(t, m.Put(ctx, "b", tag("f", 1), 30, "b"))

	// Touch "a" so "b" becomes the least recently used.
	_, ok := m.Get("a")
	require.True(t, ok)

	require.True(t, m.Put(ctx, "c", tag("f", 1), 30, "c"))

	_, ok = m.Get("b")
	assert.False(t, ok, "the least recently used entry is evicted first")
	_, ok = m.Get("a")
	assert.True(t, ok)
	_, ok = m.Get("c")
	assert.True(t, ok)
	assert.LessOrEqual(t, m.Stats().UsedBytes, int64(80))
	assert.Greater(t, m.Stats().Evictions, int64(0))
}

func TestInvalidateOwner(t *testing.T) {
	m := NewManager(WithLimitBytes(1000))
	ctx := context.Background()

	require.True(t, m.Put(ctx, "a", tag("f", 1), 10, "a"))
	require.True(t, m.Put(ctx, "b", tag("f", 1), 10, "b"))
	require.True(t, m.Put(ctx, "c", tag("g", 1), 10, "c"))

	n := m.InvalidateOwner(tag("f", 1))
	assert.Equal(t, 2, n)

	_, ok := m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("c")
	assert.True(t, ok, "other owners are untouched")
	assert.Equal(t, int64(10), m.Stats().UsedBytes)
}

func TestInvalidateBelow(t *testing.T) {
	m := NewManager(WithLimitBytes(1000))
	ctx := context.Background()

	require.True(t, m.Put(ctx, "v1", tag("f", 1), 10, nil))
	require.True(t, m.Put(ctx, "v2", tag("f", 2), 10, nil))
	require.True(t, m.Put(ctx, "v3", tag("f", 3), 10, nil))
	require.True(t, m.Put(ctx, "other", tag("g", 1), 10, nil))

	n := m.InvalidateBelow(syntax.RoutineKey{Module: "m", Name: "f"}, 3)
	assert.Equal(t, 2, n, "versions 1 and 2 are dropped, 3 survives")

	_, ok := m.Get("v3")
	assert.True(t, ok)
	_, ok = m.Get("other")
	assert.True(t, ok)
	_, ok = m.Get("v1")
	assert.False(t, ok)
}

func TestBundleEvictorAtCriticalPressure(t *testing.T) {
	m := NewManager(WithLimitBytes(100), WithThresholds(0.5, 0.6))
	ctx := context.Background()

	var calls int
	var asked int64
	m.RegisterBundleEvictor(func(_ context.Context, needBytes int64) int64 {
		calls++
		asked = needBytes
		return needBytes
	})

	// 40 bytes stays under the critical mark of 60.
	require.True(t, m.Put(ctx, "a", tag("f", 1), 40, nil))
	assert.Equal(t, 0, calls)

	// Projected 80 crosses it; the evictor is asked for the overshoot.
	require.True(t, m.Put(ctx, "b", tag("f", 1), 40, nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(20), asked)
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(WithLimitBytes(1 << 20))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				m.Put(ctx, id, tag("f", uint64(w+1)), 64, i)
				m.Get(id)
				if i%10 == 0 {
					m.InvalidateOwner(tag("f", uint64(w+1)))
				}
			}
		}(w)
	}
	wg.Wait()

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.UsedBytes, int64(0))
	assert.Equal(t, int64(stats.Entries)*64, stats.UsedBytes)
}
