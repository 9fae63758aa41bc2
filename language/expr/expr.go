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

// Package expr the default expression language, backed by expr-lang.
// Expressions see body, header, property, exchangeId and routeId.
//
//	header.type == "order" && body.amount > 100
//
// Package expr 默认表达式语言
package expr

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/language"
	"github.com/rulego/routego/utils/el"
)

const Name = "expr"

var _ types.Language = (*Language)(nil)

// Language expr-lang expressions
type Language struct{}

func New() *Language {
	return &Language{}
}

func (l *Language) Name() string {
	return Name
}

func (l *Language) CreateExpression(text string) (types.Expression, error) {
	program, err := el.Compile(strings.TrimSpace(text))
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid expr expression %q: %v", text, err)
	}
	return &Expression{Text: text, program: program}, nil
}

func (l *Language) CreatePredicate(text string) (types.Predicate, error) {
	e, err := l.CreateExpression(text)
	if err != nil {
		return nil, err
	}
	return language.ExpressionPredicate{Expression: e}, nil
}

// Expression a compiled expr program
type Expression struct {
	Text    string
	program *vm.Program
}

func (e *Expression) Evaluate(exchange *types.Exchange) (interface{}, error) {
	return expr.Run(e.program, language.Vars(exchange))
}

func (e *Expression) String() string {
	return e.Text
}
