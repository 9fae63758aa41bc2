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
	"math/rand"
	"time"
)

// OptimisticLockRetryPolicy controls how often and how fast a conflicting
// aggregation is retried in optimistic locking mode.
// OptimisticLockRetryPolicy 乐观锁冲突重试策略
type OptimisticLockRetryPolicy struct {
	// MaximumRetries 0 means retry forever
	MaximumRetries int `json:"maximumRetries" mapstructure:"maximumRetries"`
	// RetryDelay milliseconds, default 50
	RetryDelay int64 `json:"retryDelay" mapstructure:"retryDelay"`
	// MaximumRetryDelay milliseconds, default 1000
	MaximumRetryDelay  int64 `json:"maximumRetryDelay" mapstructure:"maximumRetryDelay"`
	ExponentialBackOff bool  `json:"exponentialBackOff" mapstructure:"exponentialBackOff"`
	RandomBackOff      bool  `json:"randomBackOff" mapstructure:"randomBackOff"`
}

// DefaultOptimisticLockRetryPolicy 50ms doubling up to 1s, unbounded attempts
func DefaultOptimisticLockRetryPolicy() OptimisticLockRetryPolicy {
	return OptimisticLockRetryPolicy{
		RetryDelay:         50,
		MaximumRetryDelay:  1000,
		ExponentialBackOff: true,
	}
}

// ShouldRetry attempt counts from 1
func (p OptimisticLockRetryPolicy) ShouldRetry(attempt int) bool {
	return p.MaximumRetries <= 0 || attempt < p.MaximumRetries
}

// Delay before the next attempt
func (p OptimisticLockRetryPolicy) Delay(attempt int) time.Duration {
	delay := p.RetryDelay
	if p.ExponentialBackOff && attempt > 1 {
		for i := 1; i < attempt && delay < p.MaximumRetryDelay; i++ {
			delay *= 2
		}
	}
	if p.MaximumRetryDelay > 0 && delay > p.MaximumRetryDelay {
		delay = p.MaximumRetryDelay
	}
	if p.RandomBackOff && delay > 0 {
		delay = rand.Int63n(delay + 1)
	}
	return time.Duration(delay) * time.Millisecond
}
