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
	"fmt"
	"sort"
)

// BeanRegistry holds named beans: strategies, repositories, policies, processors, executors.
// BeanRegistry Bean注册表
type BeanRegistry interface {
	Bind(name string, bean interface{})
	Unbind(name string)
	Lookup(name string) (interface{}, bool)
	// Names returns all bound names
	Names() []string
}

// LookupByNameAndType looks up name and checks that the bean is a T
// LookupByNameAndType 按名称和类型查找
func LookupByNameAndType[T any](r BeanRegistry, name string) (T, error) {
	var zero T
	typeName := fmt.Sprintf("%T", (*T)(nil))[1:]
	if r == nil {
		return zero, &LookupError{Name: name, Type: typeName, Msg: "no registry"}
	}
	bean, ok := r.Lookup(name)
	if !ok {
		return zero, &LookupError{Name: name, Type: typeName, Msg: "no bean could be found in the registry"}
	}
	v, ok := bean.(T)
	if !ok {
		return zero, &LookupError{Name: name, Type: typeName, Msg: fmt.Sprintf("found bean of type %T", bean)}
	}
	return v, nil
}

// FindByType returns every bean that is a T, keyed by name
func FindByType[T any](r BeanRegistry) map[string]T {
	found := make(map[string]T)
	if r == nil {
		return found
	}
	for _, name := range r.Names() {
		if bean, ok := r.Lookup(name); ok {
			if v, ok := bean.(T); ok {
				found[name] = v
			}
		}
	}
	return found
}

// FindSingleByType returns the only bean that is a T. Zero or several candidates are a LookupError.
// FindSingleByType 按类型查找唯一的Bean
func FindSingleByType[T any](r BeanRegistry) (T, error) {
	var zero T
	typeName := fmt.Sprintf("%T", (*T)(nil))[1:]
	found := FindByType[T](r)
	switch len(found) {
	case 1:
		for _, v := range found {
			return v, nil
		}
	case 0:
		return zero, &LookupError{Type: typeName, Msg: "no bean of this type in the registry"}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return zero, &LookupError{Type: typeName, Msg: fmt.Sprintf("found %d beans %v, exactly one was expected", len(found), names)}
}
