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

package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v9"

	"github.com/rulego/routego/api/types"
)

var _ types.IdempotentRepository = (*IdempotentRepository)(nil)

// IdempotentRepository remembers message ids as redis keys <name>:<id>
// IdempotentRepository redis 幂等仓库
type IdempotentRepository struct {
	client redis.UniversalClient
	name   string
	// Expiration of remembered ids, 0 keeps them forever
	Expiration time.Duration
}

// NewIdempotentRepository creates an idempotent repository named name on client
func NewIdempotentRepository(client redis.UniversalClient, name string, expiration time.Duration) *IdempotentRepository {
	return &IdempotentRepository{client: client, name: name, Expiration: expiration}
}

func (r *IdempotentRepository) key(id string) string {
	return r.name + ":" + id
}

func (r *IdempotentRepository) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.Expiration).Result()
}

func (r *IdempotentRepository) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *IdempotentRepository) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Confirm ids are stored by Add, nothing to confirm
func (r *IdempotentRepository) Confirm(ctx context.Context, key string) error {
	return nil
}
