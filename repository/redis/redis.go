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

// Package redis aggregation and idempotent repositories backed by redis.
//
// Groups live in the hash <name>:groups and their versions in
// <name>:versions. Compare operations run as lua scripts so that the version
// check and the write are atomic on the server.
package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/go-redis/redis/v9"
	"golang.org/x/xerrors"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/repository"
	"github.com/rulego/routego/utils/cast"
)

var (
	_ types.OptimisticLockingAggregationRepository = (*Repository)(nil)
	_ types.RecoverableAggregationRepository       = (*Repository)(nil)
)

var addScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
local version = redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
return {version, old or ''}
`)

var compareAndAddScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
if current ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], current + 1)
return current + 1
`)

var compareAndRemoveScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
if current == 0 or current ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if ARGV[3] ~= '' then
	redis.call('HSET', KEYS[3], ARGV[3], ARGV[4])
end
return 1
`)

// Repository aggregation repository stored in redis hashes. The version of a
// group is exposed on the exchanges it returns and must travel back unchanged
// into CompareAndAdd and CompareAndRemove.
//
// Repository redis 聚合仓库，支持乐观锁和恢复
type Repository struct {
	// UseRecovery keep completed exchanges in <name>:completed until Confirm
	UseRecovery  bool
	client       redis.UniversalClient
	name         string
	groupsKey    string
	versionsKey  string
	completedKey string
}

// New creates a repository named name on client
func New(client redis.UniversalClient, name string) *Repository {
	return &Repository{
		client:       client,
		name:         name,
		groupsKey:    name + ":groups",
		versionsKey:  name + ":versions",
		completedKey: name + ":completed",
	}
}

// Name of the repository, prefix of its redis keys
func (r *Repository) Name() string {
	return r.name
}

func (r *Repository) Add(ctx context.Context, key string, exchange *types.Exchange) (*types.Exchange, error) {
	data, err := repository.Marshal(exchange)
	if err != nil {
		return nil, err
	}
	values, err := addScript.Run(ctx, r.client, []string{r.groupsKey, r.versionsKey}, key, data).Slice()
	if err != nil {
		return nil, xerrors.Errorf("add %s to %s: %w", key, r.name, err)
	}
	if len(values) != 2 {
		return nil, xerrors.Errorf("add %s to %s: unexpected reply %v", key, r.name, values)
	}
	repository.SetVersion(exchange, cast.ToInt64(values[0]))
	old := cast.ToString(values[1])
	if old == "" {
		return nil, nil
	}
	// the version of the replaced group is gone with it
	return repository.Unmarshal(ctx, []byte(old))
}

func (r *Repository) Get(ctx context.Context, key string) (*types.Exchange, error) {
	var data, version *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		data = pipe.HGet(ctx, r.groupsKey, key)
		version = pipe.HGet(ctx, r.versionsKey, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, xerrors.Errorf("get %s from %s: %w", key, r.name, err)
	}
	b, err := data.Bytes()
	if err != nil {
		return nil, err
	}
	exchange, err := repository.Unmarshal(ctx, b)
	if err != nil {
		return nil, err
	}
	v, _ := version.Int64()
	repository.SetVersion(exchange, v)
	return exchange, nil
}

func (r *Repository) Remove(ctx context.Context, key string, exchange *types.Exchange) error {
	var completed []byte
	if r.UseRecovery && exchange != nil {
		data, err := repository.Marshal(exchange)
		if err != nil {
			return err
		}
		completed = data
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.groupsKey, key)
		pipe.HDel(ctx, r.versionsKey, key)
		if completed != nil {
			pipe.HSet(ctx, r.completedKey, exchange.Id(), completed)
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("remove %s from %s: %w", key, r.name, err)
	}
	return nil
}

func (r *Repository) Confirm(ctx context.Context, exchangeId string) error {
	return r.client.HDel(ctx, r.completedKey, exchangeId).Err()
}

func (r *Repository) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.groupsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// CompareAndAdd stores newExchange only if the stored version still is the
// version of oldExchange, nil oldExchange expecting no group at all. On
// success newExchange carries the new version.
func (r *Repository) CompareAndAdd(ctx context.Context, key string, oldExchange, newExchange *types.Exchange) error {
	expected := repository.Version(oldExchange)
	data, err := repository.Marshal(newExchange)
	if err != nil {
		return err
	}
	version, err := compareAndAddScript.Run(ctx, r.client, []string{r.groupsKey, r.versionsKey}, key, expected, data).Int64()
	if err != nil {
		return xerrors.Errorf("compare and add %s to %s: %w", key, r.name, err)
	}
	if version == 0 {
		return types.ErrOptimisticLocking
	}
	repository.SetVersion(newExchange, version)
	return nil
}

// CompareAndRemove removes the group only if its stored version is still the
// version of exchange
func (r *Repository) CompareAndRemove(ctx context.Context, key string, exchange *types.Exchange) error {
	expected := repository.Version(exchange)
	var id string
	var completed []byte
	if r.UseRecovery && exchange != nil {
		data, err := repository.Marshal(exchange)
		if err != nil {
			return err
		}
		id, completed = exchange.Id(), data
	}
	removed, err := compareAndRemoveScript.Run(ctx, r.client,
		[]string{r.groupsKey, r.versionsKey, r.completedKey}, key, expected, id, completed).Int64()
	if err != nil {
		return xerrors.Errorf("compare and remove %s from %s: %w", key, r.name, err)
	}
	if removed == 0 {
		return types.ErrOptimisticLocking
	}
	return nil
}

// Scan ids of completed exchanges not yet confirmed
func (r *Repository) Scan(ctx context.Context) ([]string, error) {
	ids, err := r.client.HKeys(ctx, r.completedKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Recover loads a completed exchange, nil once confirmed
func (r *Repository) Recover(ctx context.Context, exchangeId string) (*types.Exchange, error) {
	data, err := r.client.HGet(ctx, r.completedKey, exchangeId).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return repository.Unmarshal(ctx, data)
}

// Clear deletes every key of the repository
func (r *Repository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.groupsKey, r.versionsKey, r.completedKey).Err()
}
