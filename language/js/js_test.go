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

package js

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/funcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJs(t *testing.T) {
	config := types.NewConfig(
		types.WithProperties(types.Properties{"threshold": "100"}),
		types.WithUdf(map[string]interface{}{
			"upper":  strings.ToUpper,
			"double": "function double(v) { return v * 2; }",
		}),
	)
	l := New(config)
	assert.Equal(t, "js", l.Name())

	ex := types.NewExchange(context.Background(), "abc")
	ex.SetHeader("amount", 150)

	e, err := l.CreateExpression(`upper(body) + "-" + double(header.amount)`)
	require.Nil(t, err)
	v, err := e.Evaluate(ex)
	require.Nil(t, err)
	assert.Equal(t, "ABC-300", v)

	p, err := l.CreatePredicate(`header.amount > parseInt(global.threshold)`)
	require.Nil(t, err)
	for i := 0; i < 3; i++ {
		matches, err := p.Matches(ex)
		require.Nil(t, err)
		assert.True(t, matches)
	}

	e, err = l.CreateExpression(`var x = 1;`)
	require.Nil(t, err)
	v, err = e.Evaluate(ex)
	require.Nil(t, err)
	assert.Nil(t, v)

	_, err = l.CreateExpression(`function (`)
	assert.True(t, types.IsIllegalArgument(err))
}

func TestJsTimeout(t *testing.T) {
	config := types.NewConfig()
	config.ScriptMaxExecutionTime = 50 * time.Millisecond
	e, err := New(config).CreateExpression(`while (true) {}`)
	require.Nil(t, err)
	start := time.Now()
	_, err = e.Evaluate(types.NewExchange(context.Background(), nil))
	assert.NotNil(t, err)
	assert.True(t, time.Since(start) < time.Second)
}

func TestScriptFunc(t *testing.T) {
	funcs.ScriptFunc.Register("greet", "function greet(v) { return 'hi ' + v; }")
	funcs.ScriptFunc.Register("shout", strings.ToUpper)
	defer funcs.ScriptFunc.UnRegister("greet")
	defer funcs.ScriptFunc.UnRegister("shout")

	config := types.NewConfig(types.WithUdf(map[string]interface{}{
		"shout": "function shout(v) { return v + '!'; }",
	}))
	e, err := New(config).CreateExpression(`shout(greet(body))`)
	require.Nil(t, err)
	v, err := e.Evaluate(types.NewExchange(context.Background(), "bob"))
	require.Nil(t, err)
	assert.Equal(t, "hi bob!", v)
}
