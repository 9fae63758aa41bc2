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

package language

import (
	"context"
	"testing"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(Constant{}, Header{}, Property{})
	assert.ElementsMatch(t, []string{"constant", "header", "property"}, r.Names())

	_, err := r.ResolveLanguage("")
	assert.True(t, types.IsLookup(err))

	ex := types.NewExchange(context.Background(), "body")
	ex.SetHeader("type", "order")
	ex.SetProperty("size", 3)

	e, err := NewExpression(r, types.ExpressionDefinition{Language: "header", Expression: " type "})
	require.Nil(t, err)
	v, err := e.Evaluate(ex)
	require.Nil(t, err)
	assert.Equal(t, "order", v)

	e, err = NewExpression(r, types.ExpressionDefinition{Language: "property", Expression: "size"})
	require.Nil(t, err)
	v, _ = e.Evaluate(ex)
	assert.Equal(t, 3, v)

	e, err = NewExpression(r, types.ExpressionDefinition{})
	assert.Nil(t, err)
	assert.Nil(t, e)

	p, err := NewPredicate(r, types.ExpressionDefinition{Language: "constant", Expression: "TRUE"})
	require.Nil(t, err)
	matches, _ := p.Matches(ex)
	assert.True(t, matches)

	p, err = NewPredicate(r, types.ExpressionDefinition{Language: "header", Expression: "missing"})
	require.Nil(t, err)
	matches, _ = p.Matches(ex)
	assert.False(t, matches)

	_, err = NewPredicate(r, types.ExpressionDefinition{Language: "groovy", Expression: "x"})
	assert.True(t, types.IsLookup(err))
}

func TestIsTrue(t *testing.T) {
	tests := []struct {
		value interface{}
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"true", true},
		{" True ", true},
		{"yes", false},
		{0, false},
		{2.5, true},
		{[]int{}, false},
		{[]int{1}, true},
		{map[string]int{}, false},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTrue(tt.value), "%v", tt.value)
	}
}

func TestVars(t *testing.T) {
	ex := types.NewExchange(context.Background(), "b")
	ex.SetHeader("h", 1)
	ex.SetProperty("p", 2)
	ex.FromRouteId = "route1"
	vars := Vars(ex)
	assert.Equal(t, "b", vars["body"])
	assert.Equal(t, 1, vars["header"].(map[string]interface{})["h"])
	assert.Equal(t, 2, vars["property"].(map[string]interface{})["p"])
	assert.Equal(t, ex.Id(), vars["exchangeId"])
	assert.Equal(t, "route1", vars["routeId"])
}
