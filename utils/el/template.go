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

// Package el compiles ${} templates into expr programs.
//
//   - "${header.id}" a single variable: evaluates to the raw value
//   - "id-${header.id}/${body.name}" mixed text: evaluates to a string
//   - "plain" no variable: evaluates to itself
//
// Package el 把 ${} 模板编译为 expr 程序
package el

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/routego/utils/str"
)

const (
	VarPrefix = "${"
	VarSuffix = "}"
)

// Template a compiled template
type Template interface {
	Execute(data map[string]interface{}) (interface{}, error)
	// HasVar 是否有变量
	HasVar() bool
}

// NewTemplate compiles tmpl. Non string values are returned as they are.
// NewTemplate 编译模板
func NewTemplate(tmpl interface{}) (Template, error) {
	v, ok := tmpl.(string)
	if !ok {
		return &AnyTemplate{Tmpl: tmpl}, nil
	}
	trimV := strings.TrimSpace(v)
	if strings.HasPrefix(trimV, VarPrefix) && strings.HasSuffix(trimV, VarSuffix) && strings.Count(trimV, VarPrefix) == 1 {
		return NewExprTemplate(trimV[len(VarPrefix) : len(trimV)-len(VarSuffix)])
	}
	if str.CheckHasVar(v) {
		return NewMixedTemplate(v)
	}
	return &NotTemplate{Tmpl: v}, nil
}

// Compile compiles an expr expression, undefined variables evaluate to nil
func Compile(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.AllowUndefinedVariables())
}

// ExprTemplate the whole template is one expression
type ExprTemplate struct {
	Tmpl    string
	Program *vm.Program
}

// NewExprTemplate compiles an expr expression
func NewExprTemplate(expression string) (*ExprTemplate, error) {
	program, err := Compile(strings.TrimSpace(expression))
	if err != nil {
		return nil, err
	}
	return &ExprTemplate{Tmpl: expression, Program: program}, nil
}

func (t *ExprTemplate) Execute(data map[string]interface{}) (interface{}, error) {
	return expr.Run(t.Program, data)
}

func (t *ExprTemplate) HasVar() bool {
	return true
}

// NotTemplate 原样输出
type NotTemplate struct {
	Tmpl string
}

func (t *NotTemplate) Execute(map[string]interface{}) (interface{}, error) {
	return t.Tmpl, nil
}

func (t *NotTemplate) HasVar() bool {
	return false
}

// AnyTemplate 非字符串原样输出
type AnyTemplate struct {
	Tmpl interface{}
}

func (t *AnyTemplate) Execute(map[string]interface{}) (interface{}, error) {
	return t.Tmpl, nil
}

func (t *AnyTemplate) HasVar() bool {
	return false
}

type segment struct {
	text    string
	program *vm.Program
}

// MixedTemplate 支持混合字符串和变量的模板，格式如 aa/${xxx}
type MixedTemplate struct {
	Tmpl     string
	segments []segment
}

// NewMixedTemplate splits tmpl into text and ${} expressions. An unterminated ${ is kept as text.
func NewMixedTemplate(tmpl string) (*MixedTemplate, error) {
	t := &MixedTemplate{Tmpl: tmpl}
	rest := tmpl
	for {
		start := strings.Index(rest, VarPrefix)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], VarSuffix)
		if end < 0 {
			break
		}
		end += start
		if start > 0 {
			t.segments = append(t.segments, segment{text: rest[:start]})
		}
		program, err := Compile(strings.TrimSpace(rest[start+len(VarPrefix) : end]))
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, segment{program: program})
		rest = rest[end+len(VarSuffix):]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{text: rest})
	}
	return t, nil
}

func (t *MixedTemplate) Execute(data map[string]interface{}) (interface{}, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.program == nil {
			sb.WriteString(s.text)
			continue
		}
		val, err := expr.Run(s.program, data)
		if err != nil {
			return nil, err
		}
		sb.WriteString(str.ToString(val))
	}
	return sb.String(), nil
}

func (t *MixedTemplate) HasVar() bool {
	for _, s := range t.segments {
		if s.program != nil {
			return true
		}
	}
	return false
}
