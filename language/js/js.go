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

// Package js the JavaScript language. The script completion value is the
// result; body, header, property, exchangeId and global are in scope.
//
//	header.amount > 100 ? "large" : "small"
//
// Package js JavaScript 表达式语言
package js

import (
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/language"
	jsengine "github.com/rulego/routego/utils/js"
)

const Name = "js"

var _ types.Language = (*Language)(nil)

// Language compiles scripts with the udf and properties of config
type Language struct {
	config types.Config
}

func New(config types.Config) *Language {
	return &Language{config: config}
}

func (l *Language) Name() string {
	return Name
}

func (l *Language) CreateExpression(text string) (types.Expression, error) {
	engine, err := jsengine.NewGojaJsEngine(l.config, text)
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid js script %q: %v", text, err)
	}
	return types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
		return engine.Execute(language.Vars(ex))
	}), nil
}

func (l *Language) CreatePredicate(text string) (types.Predicate, error) {
	e, err := l.CreateExpression(text)
	if err != nil {
		return nil, err
	}
	return language.ExpressionPredicate{Expression: e}, nil
}
