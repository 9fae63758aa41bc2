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

// Package components holds the endpoint component registry and the built-in in-process components.
// Package components 端点组件注册表
package components

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/direct"
	"github.com/rulego/routego/components/log"
	"github.com/rulego/routego/components/mock"
	"github.com/rulego/routego/components/seda"
)

// ComponentRegistry resolves endpoint components by uri scheme.
type ComponentRegistry struct {
	components map[string]types.Component
	sync.RWMutex
}

// NewRegistry creates a registry holding the given components
func NewRegistry(components ...types.Component) *ComponentRegistry {
	r := &ComponentRegistry{components: make(map[string]types.Component)}
	for _, c := range components {
		_ = r.Register(c)
	}
	return r
}

// NewDefaultRegistry creates a registry with new direct, seda, mock and log components.
// Each engine gets its own instances, so queues and mocks are not shared between engines.
func NewDefaultRegistry() *ComponentRegistry {
	return NewRegistry(direct.New(), seda.New(), mock.New(), log.New())
}

// Register adds a component. A second component for the same scheme is rejected.
func (r *ComponentRegistry) Register(component types.Component) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[string]types.Component)
	}
	if _, ok := r.components[component.Scheme()]; ok {
		return types.NewIllegalStateError("the component already exists. scheme=%s", component.Scheme())
	}
	r.components[component.Scheme()] = component
	return nil
}

// Unregister removes the component of scheme
func (r *ComponentRegistry) Unregister(scheme string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.components[scheme]; !ok {
		return &types.LookupError{Name: scheme, Type: "component"}
	}
	delete(r.components, scheme)
	return nil
}

func (r *ComponentRegistry) ResolveComponent(scheme string) (types.Component, bool) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.components[scheme]
	return c, ok
}

// Schemes registered schemes, sorted
func (r *ComponentRegistry) Schemes() []string {
	r.RLock()
	defer r.RUnlock()
	schemes := make([]string, 0, len(r.components))
	for s := range r.components {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Start starts the components that are services
func (r *ComponentRegistry) Start(ctx context.Context) error {
	return types.ServiceHelper.Start(ctx, r.services()...)
}

// Stop stops the components that are services
func (r *ComponentRegistry) Stop(ctx context.Context) error {
	return types.ServiceHelper.Stop(ctx, r.services()...)
}

func (r *ComponentRegistry) services() []interface{} {
	var services []interface{}
	for _, scheme := range r.Schemes() {
		if c, ok := r.ResolveComponent(scheme); ok {
			services = append(services, c)
		}
	}
	return services
}

// ParseUri splits "scheme:remaining?k=v" into its parts. Repeated parameters keep the last value.
// ParseUri 解析端点uri
func ParseUri(uri string) (scheme string, remaining string, params map[string]string, err error) {
	uri = strings.TrimSpace(uri)
	i := strings.Index(uri, ":")
	if i <= 0 {
		return "", "", nil, types.NewIllegalArgumentError("invalid endpoint uri %q, expected scheme:name", uri)
	}
	scheme = uri[:i]
	remaining = strings.TrimPrefix(uri[i+1:], "//")
	params = make(map[string]string)
	if q := strings.Index(remaining, "?"); q >= 0 {
		values, qErr := url.ParseQuery(remaining[q+1:])
		if qErr != nil {
			return "", "", nil, types.NewIllegalArgumentError("invalid parameters of endpoint uri %q: %v", uri, qErr)
		}
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[len(v)-1]
			}
		}
		remaining = remaining[:q]
	}
	return scheme, remaining, params, nil
}

// NormalizeUri removes "//" after the scheme and sorts parameters, so equivalent uris share endpoints.
func NormalizeUri(uri string) (string, error) {
	scheme, remaining, params, err := ParseUri(uri)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return scheme + ":" + remaining, nil
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return scheme + ":" + remaining + "?" + values.Encode(), nil
}
