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

package funcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuiltinFunc(t *testing.T) {
	t.Run("TestEscapeFunc", func(t *testing.T) {
		escapeFunc, ok := ExprFunc.Get("escape")
		assert.True(t, ok)
		fn, ok := escapeFunc.(func(string) string)
		assert.True(t, ok)

		assert.Equal(t, "hello\\\\world", fn("hello\\world"))
		assert.Equal(t, "hello\\\"world\\\"", fn("hello\"world\""))
		assert.Equal(t, "hello\\nworld", fn("hello\nworld"))
		assert.Equal(t, "hello\\rworld", fn("hello\rworld"))
		assert.Equal(t, "hello\\tworld", fn("hello\tworld"))
		assert.Equal(t, "complex\\\\\\\"\\n\\r\\tstring", fn("complex\\\"\n\r\tstring"))
	})

	t.Run("TestDefaultIfEmpty", func(t *testing.T) {
		f, ok := ExprFunc.Get("defaultIfEmpty")
		assert.True(t, ok)
		fn := f.(func(interface{}, interface{}) interface{})
		assert.Equal(t, "d", fn(nil, "d"))
		assert.Equal(t, "d", fn("", "d"))
		assert.Equal(t, 1, fn(1, "d"))
	})

	t.Run("TestExprFuncMap", func(t *testing.T) {
		ExprFunc.RegisterAll(map[string]any{
			"test": func(a int) int {
				return a + 1
			},
		})
		ExprFunc.Register("test2", func(a int) int {
			return a + 1
		})
		cp := ExprFunc.GetAll()
		_, ok := cp["test"]
		assert.True(t, ok)
		_, ok = cp["test2"]
		assert.True(t, ok)

		ExprFunc.UnRegister("test")
		_, ok = ExprFunc.Get("test")
		assert.False(t, ok)
		_, ok = ExprFunc.Get("test2")
		assert.True(t, ok)

		ExprFunc.UnRegister("test2")
		_, ok = ExprFunc.Get("test2")
		assert.False(t, ok)
	})

	t.Run("TestScriptFuncMap", func(t *testing.T) {
		assert.NotNil(t, ScriptFunc.GetAll())
		ScriptFunc.Register("test", "function test(a) { return a + 1; }")
		defer ScriptFunc.UnRegister("test")
		assert.Contains(t, ScriptFunc.Names(), "test")
	})

	t.Run("TestCopyTo", func(t *testing.T) {
		ExprFunc.Register("body", func() string { return "shadowed" })
		defer ExprFunc.UnRegister("body")
		vars := map[string]any{"body": "payload"}
		ExprFunc.CopyTo(vars)
		assert.Equal(t, "payload", vars["body"])
		assert.Contains(t, vars, "escape")
	})
}
