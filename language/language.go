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

// Package language holds the expression language registry, the constant,
// header and property languages, and helpers shared by the script based
// languages.
//
// Package language 表达式语言注册表以及 constant、header、property 语言
package language

import (
	"reflect"
	"strings"
	"sync"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/funcs"
	"github.com/rulego/routego/utils/cast"
)

// DefaultLanguage used when an expression definition names none
const DefaultLanguage = "expr"

var _ types.LanguageResolver = (*Registry)(nil)

// Registry languages by name
// Registry 语言注册表
type Registry struct {
	mu        sync.RWMutex
	languages map[string]types.Language
}

// NewRegistry creates a registry holding languages
func NewRegistry(languages ...types.Language) *Registry {
	r := &Registry{languages: make(map[string]types.Language)}
	for _, l := range languages {
		r.Register(l)
	}
	return r
}

// Register adds or replaces a language
func (r *Registry) Register(language types.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[language.Name()] = language
}

func (r *Registry) ResolveLanguage(name string) (types.Language, error) {
	if name == "" {
		name = DefaultLanguage
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.languages[name]; ok {
		return l, nil
	}
	return nil, &types.LookupError{Name: name, Type: "Language", Msg: "no language registered with this name"}
}

// Names registered language names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.languages {
		names = append(names, k)
	}
	return names
}

// NewExpression creates the expression of a definition. An empty definition returns nil.
func NewExpression(resolver types.LanguageResolver, def types.ExpressionDefinition) (types.Expression, error) {
	if def.IsEmpty() {
		return nil, nil
	}
	l, err := resolver.ResolveLanguage(def.Language)
	if err != nil {
		return nil, err
	}
	return l.CreateExpression(def.Expression)
}

// NewPredicate creates the predicate of a definition. An empty definition returns nil.
func NewPredicate(resolver types.LanguageResolver, def types.ExpressionDefinition) (types.Predicate, error) {
	if def.IsEmpty() {
		return nil, nil
	}
	l, err := resolver.ResolveLanguage(def.Language)
	if err != nil {
		return nil, err
	}
	return l.CreatePredicate(def.Expression)
}

// Vars the variables an exchange exposes to script languages:
// body, header, property, exchangeId, routeId and exchange, plus the
// functions registered in funcs.ExprFunc.
func Vars(exchange *types.Exchange) map[string]interface{} {
	headers := map[string]interface{}(exchange.Message().Headers)
	if headers == nil {
		headers = map[string]interface{}{}
	}
	properties := exchange.Properties()
	vars := map[string]interface{}{
		"body":             exchange.Body(),
		"header":           headers,
		"headers":          headers,
		"property":         properties,
		"exchangeProperty": properties,
		"exchangeId":       exchange.Id(),
		"routeId":          exchange.FromRouteId,
		"exchange":         exchange,
	}
	funcs.ExprFunc.CopyTo(vars)
	return vars
}

// IsTrue evaluates a value as a predicate result: bools as they are, strings
// "true" case-insensitively, nil and empty collections false, anything else true.
func IsTrue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	if f, err := cast.ToFloat64E(value); err == nil {
		return f != 0
	}
	return true
}

// ExpressionPredicate adapts an expression to a predicate with IsTrue
type ExpressionPredicate struct {
	types.Expression
}

func (p ExpressionPredicate) Matches(exchange *types.Exchange) (bool, error) {
	v, err := p.Evaluate(exchange)
	if err != nil {
		return false, err
	}
	return IsTrue(v), nil
}

// Constant the expression text is the value
type Constant struct{}

func (Constant) Name() string {
	return "constant"
}

func (Constant) CreateExpression(text string) (types.Expression, error) {
	return types.ExpressionFunc(func(*types.Exchange) (interface{}, error) {
		return text, nil
	}), nil
}

func (c Constant) CreatePredicate(text string) (types.Predicate, error) {
	matches := IsTrue(text)
	return types.PredicateFunc(func(*types.Exchange) (bool, error) {
		return matches, nil
	}), nil
}

// Header the expression text names a header
type Header struct{}

func (Header) Name() string {
	return "header"
}

func (Header) CreateExpression(text string) (types.Expression, error) {
	name := strings.TrimSpace(text)
	return types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
		return ex.Header(name), nil
	}), nil
}

func (h Header) CreatePredicate(text string) (types.Predicate, error) {
	e, _ := h.CreateExpression(text)
	return ExpressionPredicate{Expression: e}, nil
}

// Property the expression text names an exchange property
type Property struct{}

func (Property) Name() string {
	return "property"
}

func (Property) CreateExpression(text string) (types.Expression, error) {
	name := strings.TrimSpace(text)
	return types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
		return ex.Property(name), nil
	}), nil
}

func (p Property) CreatePredicate(text string) (types.Predicate, error) {
	e, _ := p.CreateExpression(text)
	return ExpressionPredicate{Expression: e}, nil
}
