/*
 * Copyright 2023 The RuleGo Authors.
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

package types

import (
	"context"
	"time"
)

// AggregationStrategy merges a new exchange into the accumulated one.
// oldExchange is nil on the first invocation.
//
// AggregationStrategy 聚合策略，把新交换合并到已聚合的交换中，首次调用时 oldExchange 为 nil
type AggregationStrategy interface {
	Aggregate(oldExchange, newExchange *Exchange) (*Exchange, error)
}

// AggregationStrategyFunc adapts a function to AggregationStrategy
type AggregationStrategyFunc func(oldExchange, newExchange *Exchange) (*Exchange, error)

func (f AggregationStrategyFunc) Aggregate(oldExchange, newExchange *Exchange) (*Exchange, error) {
	return f(oldExchange, newExchange)
}

// PreCompletionAwareAggregationStrategy decides before aggregating whether the
// current group must be completed first.
type PreCompletionAwareAggregationStrategy interface {
	AggregationStrategy
	PreComplete(oldExchange, newExchange *Exchange) bool
}

// CompletionAwareAggregationStrategy is notified when a group completes
type CompletionAwareAggregationStrategy interface {
	AggregationStrategy
	OnCompletion(exchange *Exchange)
}

// TimeoutAwareAggregationStrategy is notified when a group or a parallel fan-out times out
type TimeoutAwareAggregationStrategy interface {
	AggregationStrategy
	Timeout(oldExchange *Exchange, index, total int, timeout time.Duration)
}

// OptimisticLockingAwareAggregationStrategy is notified on optimistic locking conflicts
type OptimisticLockingAwareAggregationStrategy interface {
	AggregationStrategy
	OnOptimisticLockFailure(oldExchange, newExchange *Exchange)
}

// AggregationRepository stores correlation groups.
// Get returns nil, nil when the key is absent.
//
// AggregationRepository 聚合仓库，保存关联组
type AggregationRepository interface {
	// Add stores the exchange for key and returns the previous one
	Add(ctx context.Context, key string, exchange *Exchange) (*Exchange, error)
	Get(ctx context.Context, key string) (*Exchange, error)
	// Remove removes the group, recoverable repositories keep it until Confirm
	Remove(ctx context.Context, key string, exchange *Exchange) error
	// Confirm confirms that the completed exchange has been processed
	Confirm(ctx context.Context, exchangeId string) error
	Keys(ctx context.Context) ([]string, error)
}

// OptimisticLockingAggregationRepository detects concurrent updates instead of
// relying on the caller's lock. Conflicts return ErrOptimisticLocking.
//
// OptimisticLockingAggregationRepository 乐观锁聚合仓库，冲突时返回 ErrOptimisticLocking
type OptimisticLockingAggregationRepository interface {
	AggregationRepository
	// CompareAndAdd stores newExchange if the current value for key is still oldExchange (nil meaning absent)
	CompareAndAdd(ctx context.Context, key string, oldExchange, newExchange *Exchange) error
	// CompareAndRemove removes key if the current value is still exchange
	CompareAndRemove(ctx context.Context, key string, exchange *Exchange) error
}

// RecoverableAggregationRepository keeps completed exchanges until confirmed so
// that they can be recovered after a crash.
type RecoverableAggregationRepository interface {
	AggregationRepository
	// Scan returns the ids of completed but unconfirmed exchanges
	Scan(ctx context.Context) ([]string, error)
	// Recover loads a completed exchange by id, nil if already confirmed
	Recover(ctx context.Context, exchangeId string) (*Exchange, error)
}
