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

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builder"
	"github.com/rulego/routego/test"
)

var orderRouteDsl = []byte(`
{
  "route": {
    "id": "orders",
    "from": "direct:orders",
    "messageHistory": "true",
    "properties": {"target": "big"}
  },
  "metadata": {
    "outputs": ["c1", "done"],
    "nodes": [
      {"id": "c1", "kind": "choice"},
      {"id": "w1", "kind": "when", "configuration": {"expression": {"language": "expr", "expression": "body > 10"}}},
      {"id": "toBig", "kind": "to", "configuration": {"uri": "mock:${route.target}"}},
      {"id": "o1", "kind": "otherwise"},
      {"id": "toSmall", "kind": "to", "configuration": {"uri": "mock:small"}},
      {"id": "done", "kind": "setHeader", "configuration": {"name": "done", "expression": "true", "expressionLanguage": "constant"}}
    ],
    "connections": [
      {"fromId": "c1", "toId": "w1"},
      {"fromId": "w1", "toId": "toBig"},
      {"fromId": "c1", "toId": "o1"},
      {"fromId": "o1", "toId": "toSmall"}
    ]
  }
}`)

func TestParseRoute(t *testing.T) {
	def, err := ParseRoute(orderRouteDsl)
	require.NoError(t, err)
	assert.True(t, def.IsFrozen())
	assert.Equal(t, "orders", def.Id)
	require.Len(t, def.Outputs, 2)
	choice := def.NodeById("c1")
	require.NotNil(t, choice)
	assert.Equal(t, types.KindChoice, choice.Kind)
	branches := def.Children(choice.Index())
	require.Len(t, branches, 2)
	assert.Equal(t, "w1", branches[0].Id)
	assert.Equal(t, "o1", branches[1].Id)
	assert.Equal(t, def.NodeById("w1").Index(), def.NodeById("toBig").Parent)
	assert.Equal(t, choice.Index(), def.NodeById("w1").Parent)
}

func TestRouteFromDsl(t *testing.T) {
	e := startEngine(t)
	big := mockEndpoint(t, e, "big")
	small := mockEndpoint(t, e, "small")
	big.ExpectedBodiesReceived(20)
	small.ExpectedBodiesReceived(5)

	_, err := e.AddRouteFromDSL(context.Background(), orderRouteDsl)
	require.NoError(t, err)
	exchanges := test.SendMsgs(t, e, "direct:orders", test.Bodies(20, 5), true)
	assert.NoError(t, big.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, small.AssertIsSatisfied(test.DefaultTimeout))
	for _, exchange := range exchanges {
		assert.Equal(t, "true", exchange.Header("done"))
	}
}

func TestEncodeRouteRoundTrip(t *testing.T) {
	def, err := builder.NewRoute("direct:round").RouteId("round").
		Description("round trip").
		DeadLetterChannel("mock:dead", &types.RedeliveryPolicyDefinition{MaximumRedeliveries: 2}).
		Property("k", "v").
		DoTry().
		SetBody(builder.Simple("${body}!")).
		DoCatch("IOError").Log("caught").
		End().
		Split(builder.Expr("body"), builder.Options{"parallelProcessing": true}).
		To("mock:item").InheritErrorHandler(false).
		End().
		Build()
	require.NoError(t, err)

	encoded, err := EncodeRoute(def)
	require.NoError(t, err)
	parsed, err := ParseRoute(encoded)
	require.NoError(t, err)
	again, err := EncodeRoute(parsed)
	require.NoError(t, err)
	assert.JSONEq(t, string(encoded), string(again))

	assert.Equal(t, len(def.Nodes), len(parsed.Nodes))
	for i := range def.Nodes {
		node := parsed.NodeById(def.Nodes[i].Id)
		require.NotNil(t, node)
		assert.Equal(t, def.Nodes[i].Kind, node.Kind)
		assert.Equal(t, def.NodeById(def.Nodes[i].Id).Parent != types.NoParent, node.Parent != types.NoParent)
	}
	item := parsed.NodeById("to1")
	require.NotNil(t, item)
	require.NotNil(t, item.InheritErrorHandler)
	assert.False(t, *item.InheritErrorHandler)
	assert.Equal(t, types.DeadLetterChannel, parsed.ErrorHandler.Type)
}

func TestParseRouteErrors(t *testing.T) {
	_, err := ParseRoute(nil)
	assert.ErrorIs(t, err, types.ErrDslEmpty)

	_, err = ParseRoute([]byte(`{"route": {"id": "bad"`))
	assert.Error(t, err)

	_, err = ParseRoute([]byte(`{
  "route": {"id": "bad", "from": "direct:bad"},
  "metadata": {
    "outputs": ["a"],
    "nodes": [{"id": "a", "kind": "log"}],
    "connections": [{"fromId": "a", "toId": "missing"}]
  }
}`))
	assert.True(t, types.IsIllegalArgument(err))

	var parser JsonParser
	_, err = parser.DecodeNode(nil)
	assert.ErrorIs(t, err, types.ErrDslEmpty)
	node, err := parser.DecodeNode([]byte(`{"id": "n", "kind": "log", "configuration": {"message": "hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, types.KindLog, node.Kind)
	assert.Equal(t, "hi", node.Configuration["message"])
}
