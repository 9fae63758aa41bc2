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

// Package cache provides the in-memory cache and the idempotent repositories built on it.
package cache

import (
	"sync"
	"time"

	"github.com/rulego/routego/api/types"
)

var _ types.Cache = (*MemoryCache)(nil)

// MemoryCache is an in-memory cache implementation.
// It stores key-value pairs with optional expiration.
type MemoryCache struct {
	items      map[string]item
	mu         sync.RWMutex
	stopGc     chan struct{}
	gcInterval time.Duration
	gcRunning  bool
}

// item expiration is a Unix nano timestamp, 0 means never expire
type item struct {
	value      interface{}
	expiration int64
}

func (it item) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// NewMemoryCache creates a new MemoryCache instance. Expired items are
// collected every gcInterval once an expirable item has been stored.
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		gcInterval: time.Minute * 5,
	}
	if gcInterval > 0 {
		c.gcInterval = gcInterval
	}
	return c
}

func parseTtl(ttl string) (int64, error) {
	if ttl == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, nil
	}
	return time.Now().Add(dur).UnixNano(), nil
}

// Set stores a value with an optional ttl such as "10m". Empty ttl means never expire.
func (c *MemoryCache) Set(key string, value interface{}, ttl string) error {
	expiration, err := parseTtl(ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = item{value: value, expiration: expiration}
	c.mu.Unlock()
	if expiration > 0 {
		c.StartGC()
	}
	return nil
}

// SetIfAbsent stores value only when key is absent or expired, and reports whether it stored it
// SetIfAbsent 键不存在时写入，返回是否写入
func (c *MemoryCache) SetIfAbsent(key string, value interface{}, ttl string) (bool, error) {
	expiration, err := parseTtl(ttl)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	if it, found := c.items[key]; found && !it.expired(time.Now().UnixNano()) {
		c.mu.Unlock()
		return false, nil
	}
	c.items[key] = item{value: value, expiration: expiration}
	c.mu.Unlock()
	if expiration > 0 {
		c.StartGC()
	}
	return true, nil
}

// Get returns the value, or nil when the key is absent or expired
func (c *MemoryCache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		return nil
	}
	return it.value
}

// Has checks if the key exists and has not expired
func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	return found && !it.expired(time.Now().UnixNano())
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Len number of stored items, expired ones included until collected
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartGC starts collecting expired items. It is a no-op when already running.
func (c *MemoryCache) StartGC() {
	c.mu.Lock()
	if c.gcRunning {
		c.mu.Unlock()
		return
	}
	c.gcRunning = true
	stop := make(chan struct{})
	c.stopGc = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.deleteExpired() {
					c.StopGC()
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopGC stops collecting expired items. Safe to call multiple times.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcRunning {
		close(c.stopGc)
		c.gcRunning = false
	}
}

// deleteExpired removes expired items and reports whether expirable items remain
func (c *MemoryCache) deleteExpired() bool {
	now := time.Now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := false
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		} else if v.expiration > 0 {
			remaining = true
		}
	}
	return remaining
}

// NamespaceCache prefixes every key with a namespace, isolating nodes sharing one cache
// NamespaceCache 为键添加命名空间前缀
type NamespaceCache struct {
	Cache     types.Cache
	Namespace string
}

// NewNamespaceCache returns nil when cache is nil
func NewNamespaceCache(cache types.Cache, namespace string) *NamespaceCache {
	if cache == nil {
		return nil
	}
	return &NamespaceCache{Cache: cache, Namespace: namespace}
}

func (c *NamespaceCache) Set(key string, value interface{}, ttl string) error {
	return c.Cache.Set(c.Namespace+key, value, ttl)
}

func (c *NamespaceCache) Get(key string) interface{} {
	return c.Cache.Get(c.Namespace + key)
}

func (c *NamespaceCache) Delete(key string) error {
	return c.Cache.Delete(c.Namespace + key)
}

func (c *NamespaceCache) Has(key string) bool {
	return c.Cache.Has(c.Namespace + key)
}
