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

package aggregate

import (
	"context"
	"sort"
	"sync"

	"github.com/rulego/routego/api/types"
)

var (
	_ types.OptimisticLockingAggregationRepository = (*MemoryAggregationRepository)(nil)
	_ types.RecoverableAggregationRepository       = (*MemoryAggregationRepository)(nil)
)

// MemoryAggregationRepository keeps correlation groups in memory. In
// optimistic mode the compare operations use pointer identity of the stored
// exchange. With UseRecovery removed groups stay in a completed set until
// confirmed.
//
// MemoryAggregationRepository 内存聚合仓库
type MemoryAggregationRepository struct {
	// UseRecovery keep completed exchanges until Confirm
	UseRecovery bool
	mu          sync.RWMutex
	groups      map[string]*types.Exchange
	completed   map[string]*types.Exchange
}

// NewMemoryAggregationRepository creates an empty repository
func NewMemoryAggregationRepository() *MemoryAggregationRepository {
	return &MemoryAggregationRepository{
		groups:    make(map[string]*types.Exchange),
		completed: make(map[string]*types.Exchange),
	}
}

func (r *MemoryAggregationRepository) Add(ctx context.Context, key string, exchange *types.Exchange) (*types.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.groups[key]
	r.groups[key] = exchange
	return old, nil
}

func (r *MemoryAggregationRepository) Get(ctx context.Context, key string) (*types.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[key], nil
}

func (r *MemoryAggregationRepository) Remove(ctx context.Context, key string, exchange *types.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, key)
	if r.UseRecovery && exchange != nil {
		r.completed[exchange.Id()] = exchange.Copy()
	}
	return nil
}

func (r *MemoryAggregationRepository) Confirm(ctx context.Context, exchangeId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.completed, exchangeId)
	return nil
}

func (r *MemoryAggregationRepository) Keys(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.groups))
	for k := range r.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// CompareAndAdd stores newExchange only if the stored exchange is still oldExchange
func (r *MemoryAggregationRepository) CompareAndAdd(ctx context.Context, key string, oldExchange, newExchange *types.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[key] != oldExchange {
		return types.ErrOptimisticLocking
	}
	r.groups[key] = newExchange
	return nil
}

// CompareAndRemove removes key only if the stored exchange is still exchange
func (r *MemoryAggregationRepository) CompareAndRemove(ctx context.Context, key string, exchange *types.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.groups[key]
	if !ok || current != exchange {
		return types.ErrOptimisticLocking
	}
	delete(r.groups, key)
	if r.UseRecovery && exchange != nil {
		r.completed[exchange.Id()] = exchange.Copy()
	}
	return nil
}

// Scan ids of completed exchanges not yet confirmed
func (r *MemoryAggregationRepository) Scan(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.completed))
	for id := range r.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Recover returns a copy of a completed exchange, nil once confirmed
func (r *MemoryAggregationRepository) Recover(ctx context.Context, exchangeId string) (*types.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ex, ok := r.completed[exchangeId]; ok {
		return ex.Copy(), nil
	}
	return nil, nil
}

// Size number of open groups
func (r *MemoryAggregationRepository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
