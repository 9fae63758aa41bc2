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

package types

import "context"

// Cache key value cache with expiry
// Cache 缓存接口
type Cache interface {
	// Set stores value. ttl is a duration string such as "10m", empty means never expire
	Set(key string, value interface{}, ttl string) error
	// Get returns nil when the key is absent or expired
	Get(key string) interface{}
	Has(key string) bool
	Delete(key string) error
}

// IdempotentRepository remembers message ids for the idempotent consumer
// IdempotentRepository 幂等仓库
type IdempotentRepository interface {
	// Add returns false when the key was already present
	Add(ctx context.Context, key string) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	Confirm(ctx context.Context, key string) error
}
