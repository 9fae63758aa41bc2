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

// Package simple a template language: ${...} placeholders are expr
// expressions over the exchange, the rest is literal text.
//
//	order-${header.id}      evaluates to a string
//	${body}                 evaluates to the body itself
//	${header.size} > 10     as a predicate, the placeholders become operands
//
// Package simple 模板表达式语言
package simple

import (
	"strings"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/language"
	"github.com/rulego/routego/utils/el"
)

const Name = "simple"

var _ types.Language = (*Language)(nil)

type Language struct{}

func New() *Language {
	return &Language{}
}

func (l *Language) Name() string {
	return Name
}

func (l *Language) CreateExpression(text string) (types.Expression, error) {
	tmpl, err := el.NewTemplate(text)
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid simple expression %q: %v", text, err)
	}
	return types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
		if !tmpl.HasVar() {
			return text, nil
		}
		return tmpl.Execute(language.Vars(ex))
	}), nil
}

// CreatePredicate strips the ${ } markers and compiles the text as one expression
func (l *Language) CreatePredicate(text string) (types.Predicate, error) {
	program, err := el.Compile(toExpr(text))
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid simple predicate %q: %v", text, err)
	}
	tmpl := &el.ExprTemplate{Tmpl: text, Program: program}
	return types.PredicateFunc(func(ex *types.Exchange) (bool, error) {
		v, err := tmpl.Execute(language.Vars(ex))
		if err != nil {
			return false, err
		}
		return language.IsTrue(v), nil
	}), nil
}

// toExpr rewrites "${a} == 'x'" to "(a) == 'x'"
func toExpr(text string) string {
	var sb strings.Builder
	rest := strings.TrimSpace(text)
	for {
		start := strings.Index(rest, el.VarPrefix)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], el.VarSuffix)
		if end < 0 {
			break
		}
		end += start
		sb.WriteString(rest[:start])
		sb.WriteString("(")
		sb.WriteString(strings.TrimSpace(rest[start+len(el.VarPrefix) : end]))
		sb.WriteString(")")
		rest = rest[end+len(el.VarSuffix):]
	}
	sb.WriteString(rest)
	return sb.String()
}
