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

package expr

import (
	"context"
	"testing"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/funcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr(t *testing.T) {
	l := New()
	assert.Equal(t, "expr", l.Name())

	ex := types.NewExchange(context.Background(), map[string]interface{}{"amount": 150})
	ex.SetHeader("type", "order")

	e, err := l.CreateExpression(`header.type + "-" + exchangeId`)
	require.Nil(t, err)
	v, err := e.Evaluate(ex)
	require.Nil(t, err)
	assert.Equal(t, "order-"+ex.Id(), v)

	p, err := l.CreatePredicate(`header.type == "order" && body.amount > 100`)
	require.Nil(t, err)
	matches, err := p.Matches(ex)
	require.Nil(t, err)
	assert.True(t, matches)

	p, err = l.CreatePredicate(`header.missing`)
	require.Nil(t, err)
	matches, err = p.Matches(ex)
	require.Nil(t, err)
	assert.False(t, matches)

	_, err = l.CreateExpression(`header.type ==`)
	assert.True(t, types.IsIllegalArgument(err))
}

func TestExprFunc(t *testing.T) {
	funcs.ExprFunc.Register("double", func(v int) int { return v * 2 })
	defer funcs.ExprFunc.UnRegister("double")

	e, err := New().CreateExpression(`double(body) + 1`)
	require.Nil(t, err)
	v, err := e.Evaluate(types.NewExchange(context.Background(), 21))
	require.Nil(t, err)
	assert.Equal(t, 43, v)

	e, err = New().CreateExpression(`escape(body)`)
	require.Nil(t, err)
	v, err = e.Evaluate(types.NewExchange(context.Background(), "a\"b"))
	require.Nil(t, err)
	assert.Equal(t, `a\"b`, v)
}
