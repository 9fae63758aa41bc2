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

// Expression evaluates a value against an exchange.
// Expression 表达式，基于交换计算出一个值
type Expression interface {
	Evaluate(exchange *Exchange) (interface{}, error)
}

// Predicate evaluates a boolean against an exchange.
// Predicate 断言
type Predicate interface {
	Matches(exchange *Exchange) (bool, error)
}

// ExpressionFunc adapts a function to Expression
type ExpressionFunc func(exchange *Exchange) (interface{}, error)

func (f ExpressionFunc) Evaluate(exchange *Exchange) (interface{}, error) {
	return f(exchange)
}

// PredicateFunc adapts a function to Predicate
type PredicateFunc func(exchange *Exchange) (bool, error)

func (f PredicateFunc) Matches(exchange *Exchange) (bool, error) {
	return f(exchange)
}

// Language creates expressions and predicates from text.
// Language 表达式语言
type Language interface {
	// Name language name, e.g. expr, simple, js
	Name() string
	CreateExpression(text string) (Expression, error)
	CreatePredicate(text string) (Predicate, error)
}

// LanguageResolver resolves a language by name
type LanguageResolver interface {
	ResolveLanguage(name string) (Language, error)
}

// ExpressionDefinition an expression in a node configuration
// ExpressionDefinition 节点配置中的表达式
type ExpressionDefinition struct {
	// Language 语言，默认 expr
	Language string `json:"language,omitempty" mapstructure:"language"`
	// Expression 表达式文本
	Expression string `json:"expression,omitempty" mapstructure:"expression"`
}

// IsEmpty reports whether no expression text is set
func (d ExpressionDefinition) IsEmpty() bool {
	return d.Expression == ""
}

// Iterator lazily produces values, used by the streaming splitter.
// Iterator 迭代器，流式拆分时使用
type Iterator interface {
	// Next returns the next value, ok is false once exhausted
	Next() (value interface{}, ok bool, err error)
}
