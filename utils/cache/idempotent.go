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
	"sync"

	"github.com/gammazero/deque"
	"github.com/rulego/routego/api/types"
)

// DefaultIdempotentCacheSize keys remembered by the memory idempotent repository
const DefaultIdempotentCacheSize = 1000

var _ types.IdempotentRepository = (*IdempotentRepository)(nil)

// IdempotentRepository remembers message ids in a cache. With MaxSize > 0 the
// oldest keys are evicted first.
// IdempotentRepository 基于缓存的幂等仓库，超过容量时淘汰最早的键
type IdempotentRepository struct {
	cache types.Cache
	// Ttl optional expiry of remembered keys, e.g. "1h"
	Ttl     string
	MaxSize int
	mu      sync.Mutex
	order   *deque.Deque[string]
}

// NewIdempotentRepository creates a repository on cache, a private memory cache when nil
func NewIdempotentRepository(cache types.Cache, maxSize int) *IdempotentRepository {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &IdempotentRepository{cache: cache, MaxSize: maxSize, order: deque.New[string]()}
}

// NewMemoryIdempotentRepository creates a bounded in-memory repository
func NewMemoryIdempotentRepository() *IdempotentRepository {
	return NewIdempotentRepository(nil, DefaultIdempotentCacheSize)
}

func (r *IdempotentRepository) Add(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.Has(key) {
		return false, nil
	}
	if err := r.cache.Set(key, true, r.Ttl); err != nil {
		return false, err
	}
	if r.MaxSize > 0 {
		r.order.PushBack(key)
		for r.order.Len() > r.MaxSize {
			_ = r.cache.Delete(r.order.PopFront())
		}
	}
	return true, nil
}

func (r *IdempotentRepository) Contains(ctx context.Context, key string) (bool, error) {
	return r.cache.Has(key), nil
}

func (r *IdempotentRepository) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Delete(key)
}

// Confirm keys are stored eagerly, nothing to confirm
func (r *IdempotentRepository) Confirm(ctx context.Context, key string) error {
	return nil
}
