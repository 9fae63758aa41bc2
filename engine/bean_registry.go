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

package engine

import (
	"sort"
	"sync"

	"github.com/rulego/routego/api/types"
)

var _ types.BeanRegistry = (*DefaultBeanRegistry)(nil)

// DefaultBeanRegistry in-memory bean registry
// DefaultBeanRegistry 内存Bean注册表
type DefaultBeanRegistry struct {
	beans map[string]interface{}
	sync.RWMutex
}

// NewBeanRegistry creates an empty registry
func NewBeanRegistry() *DefaultBeanRegistry {
	return &DefaultBeanRegistry{beans: make(map[string]interface{})}
}

// Bind binds bean under name, replacing any previous bean
func (r *DefaultBeanRegistry) Bind(name string, bean interface{}) {
	r.Lock()
	defer r.Unlock()
	r.beans[name] = bean
}

func (r *DefaultBeanRegistry) Unbind(name string) {
	r.Lock()
	defer r.Unlock()
	delete(r.beans, name)
}

func (r *DefaultBeanRegistry) Lookup(name string) (interface{}, bool) {
	r.RLock()
	defer r.RUnlock()
	bean, ok := r.beans[name]
	return bean, ok
}

// Names sorted names of the bound beans
func (r *DefaultBeanRegistry) Names() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.beans))
	for name := range r.beans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
