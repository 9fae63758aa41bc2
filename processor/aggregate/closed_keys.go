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
	"sync"

	"github.com/gammazero/deque"
)

// closedKeys remembers completed correlation keys. With a positive capacity
// the oldest key is forgotten first.
type closedKeys struct {
	capacity int
	mu       sync.Mutex
	keys     map[string]struct{}
	order    *deque.Deque[string]
}

func newClosedKeys(capacity int) *closedKeys {
	return &closedKeys{capacity: capacity, keys: make(map[string]struct{}), order: deque.New[string]()}
}

func (c *closedKeys) add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return
	}
	c.keys[key] = struct{}{}
	c.order.PushBack(key)
	for c.capacity > 0 && c.order.Len() > c.capacity {
		oldest := c.order.PopFront()
		delete(c.keys, oldest)
	}
}

func (c *closedKeys) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

func (c *closedKeys) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *closedKeys) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[string]struct{})
	c.order.Clear()
}
