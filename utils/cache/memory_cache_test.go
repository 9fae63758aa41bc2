/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(50 * time.Millisecond)
	defer c.StopGC()

	t.Run("SetAndGet", func(t *testing.T) {
		assert.Nil(t, c.Set("key1", "value1", "1m"))
		assert.Equal(t, "value1", c.Get("key1"))
		assert.Nil(t, c.Set("key2", "value2", "100ms"))
		time.Sleep(200 * time.Millisecond)
		assert.Nil(t, c.Get("key2"))
		assert.False(t, c.Has("key2"))
		assert.NotNil(t, c.Set("key3", "value3", "bad"))
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set("key1", "value1", "")
		assert.Nil(t, c.Delete("key1"))
		assert.Nil(t, c.Get("key1"))
		assert.False(t, c.Has("key1"))
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		ok, err := c.SetIfAbsent("once", 1, "")
		assert.Nil(t, err)
		assert.True(t, ok)
		ok, _ = c.SetIfAbsent("once", 2, "")
		assert.False(t, ok)
		assert.Equal(t, 1, c.Get("once"))
	})

	t.Run("Namespace", func(t *testing.T) {
		ns := NewNamespaceCache(c, "ns:")
		_ = ns.Set("a", "b", "")
		assert.Equal(t, "b", c.Get("ns:a"))
		assert.True(t, ns.Has("a"))
		_ = ns.Delete("a")
		assert.False(t, c.Has("ns:a"))
		assert.Nil(t, NewNamespaceCache(nil, "x"))
	})
}

func TestIdempotentRepository(t *testing.T) {
	ctx := context.Background()
	r := NewIdempotentRepository(nil, 2)
	added, err := r.Add(ctx, "a")
	require.Nil(t, err)
	assert.True(t, added)
	added, _ = r.Add(ctx, "a")
	assert.False(t, added)

	_, _ = r.Add(ctx, "b")
	_, _ = r.Add(ctx, "c")
	contains, _ := r.Contains(ctx, "a")
	assert.False(t, contains, "oldest key is evicted")
	contains, _ = r.Contains(ctx, "c")
	assert.True(t, contains)

	assert.Nil(t, r.Remove(ctx, "c"))
	contains, _ = r.Contains(ctx, "c")
	assert.False(t, contains)
	assert.Nil(t, r.Confirm(ctx, "b"))
}
