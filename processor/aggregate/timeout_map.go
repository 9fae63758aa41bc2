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
	"time"
)

type timeoutEntry struct {
	exchangeId string
	deadline   time.Time
}

// timeoutMap tracks the inactivity deadline of each correlation group.
// Putting a key again restarts its deadline.
type timeoutMap struct {
	mu      sync.Mutex
	entries map[string]timeoutEntry
}

func newTimeoutMap() *timeoutMap {
	return &timeoutMap{entries: make(map[string]timeoutEntry)}
}

func (m *timeoutMap) put(key, exchangeId string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = timeoutEntry{exchangeId: exchangeId, deadline: time.Now().Add(timeout)}
}

func (m *timeoutMap) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *timeoutMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// expired removes and returns the entries whose deadline has passed
func (m *timeoutMap) expired(now time.Time) map[string]timeoutEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted map[string]timeoutEntry
	for key, entry := range m.entries {
		if !now.Before(entry.deadline) {
			if evicted == nil {
				evicted = make(map[string]timeoutEntry)
			}
			evicted[key] = entry
			delete(m.entries, key)
		}
	}
	return evicted
}

// restore puts back an evicted entry unless the key was put again meanwhile
func (m *timeoutMap) restore(key string, entry timeoutEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		m.entries[key] = entry
	}
}
