/*
 * Copyright 2024 The RuleGo Authors.
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

// Package funcs process wide functions for the expression languages.
//
// Functions registered in ExprFunc are passed with the exchange variables to
// every language, so expr and simple expressions can call them. ScriptFunc entries are set on every js
// virtual machine, before the Udf of the engine config which wins on a name
// clash. Register before the routes using them are compiled.
//
// Package funcs 表达式语言的全局函数
package funcs

import (
	"strings"
	"sync"
)

// ExprFunc functions for expr and simple expressions
var ExprFunc funcMap

// ScriptFunc functions or js sources for the js language
var ScriptFunc funcMap

func init() {
	ExprFunc.Register("escape", func(s string) string {
		var replacer = strings.NewReplacer(
			"\\", "\\\\", // 反斜杠
			"\"", "\\\"", // 双引号
			"\n", "\\n", // 换行符
			"\r", "\\r", // 回车符
			"\t", "\\t", // 制表符
		)
		return replacer.Replace(s)
	})
	ExprFunc.Register("defaultIfEmpty", func(v interface{}, def interface{}) interface{} {
		if v == nil || v == "" {
			return def
		}
		return v
	})
}

type funcMap struct {
	v map[string]any
	sync.RWMutex
}

func (x *funcMap) Register(name string, value any) {
	x.Lock()
	defer x.Unlock()
	if x.v == nil {
		x.v = make(map[string]any)
	}
	x.v[name] = value
}

func (x *funcMap) RegisterAll(values map[string]any) {
	x.Lock()
	defer x.Unlock()
	if x.v == nil {
		x.v = make(map[string]any)
	}
	for k, v := range values {
		x.v[k] = v
	}
}

func (x *funcMap) UnRegister(name string) {
	x.Lock()
	defer x.Unlock()
	delete(x.v, name)
}

func (x *funcMap) Get(name string) (any, bool) {
	x.RLock()
	defer x.RUnlock()
	f, ok := x.v[name]
	return f, ok
}

// GetAll a copy of the registered functions, never nil
func (x *funcMap) GetAll() map[string]any {
	x.RLock()
	defer x.RUnlock()
	cp := make(map[string]any, len(x.v))
	for k, v := range x.v {
		cp[k] = v
	}
	return cp
}

// CopyTo adds the functions to dst, keys already in dst are kept
func (x *funcMap) CopyTo(dst map[string]any) {
	x.RLock()
	defer x.RUnlock()
	for k, v := range x.v {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

func (x *funcMap) Names() []string {
	x.RLock()
	defer x.RUnlock()
	var keys = make([]string, 0, len(x.v))
	for k := range x.v {
		keys = append(keys, k)
	}
	return keys
}
