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

package routego

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/mock"
	"github.com/rulego/routego/engine"
	"github.com/rulego/routego/test"
)

const upperRouteDsl = `
{
  "route": {"id": "upper", "from": "direct:upper"},
  "metadata": {
    "outputs": ["s1", "t1"],
    "nodes": [
      {"id": "s1", "kind": "setBody", "configuration": {"expression": {"language": "simple", "expression": "${body}!"}}},
      {"id": "t1", "kind": "to", "configuration": {"uri": "mock:upper"}}
    ]
  }
}`

const lowerRouteDsl = `
{
  "route": {"id": "lower", "from": "direct:lower"},
  "metadata": {
    "outputs": ["t1"],
    "nodes": [
      {"id": "t1", "kind": "to", "configuration": {"uri": "mock:lower"}}
    ]
  }
}`

func writeRoutes(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upper.json"), []byte(upperRouteDsl), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "lower.json"), []byte(lowerRouteDsl), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a route"), 0644))
	return dir
}

func TestNew(t *testing.T) {
	e := New(types.WithProperties(map[string]string{"k": "v"}))
	assert.False(t, e.IsStarted())
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsStarted())
	require.NoError(t, e.Stop(context.Background()))
	_, ok := Get("missing")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := writeRoutes(t)
	g := &RouteGo{}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	e, err := g.Load(ctx, "test", dir)
	require.NoError(t, err)
	assert.True(t, e.IsStarted())
	require.Len(t, e.Routes(), 2)

	endpoint, err := e.Endpoint("mock:upper")
	require.NoError(t, err)
	upper := endpoint.(*mock.Endpoint)
	upper.ExpectedBodiesReceived("a!")
	require.NoError(t, e.Send(ctx, "direct:upper", test.NewExchange("a", nil)))
	assert.NoError(t, upper.AssertIsSatisfied(test.DefaultTimeout))

	same, err := g.New("test")
	require.NoError(t, err)
	assert.Same(t, e, same)

	var ids []string
	g.Range(func(id string, _ *engine.RouteEngine) bool {
		ids = append(ids, id)
		return true
	})
	assert.Equal(t, []string{"test"}, ids)

	require.NoError(t, g.Del(ctx, "test"))
	assert.False(t, e.IsStarted())
	_, ok := g.Get("test")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	g := &RouteGo{}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	_, err := g.New("")
	assert.True(t, types.IsIllegalArgument(err))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"route":`), 0644))
	_, err = g.Load(ctx, "bad", dir)
	assert.True(t, types.IsIllegalArgument(err))
}

func TestRouteFilePattern(t *testing.T) {
	tests := []struct {
		folder string
		want   string
	}{
		{"", "./*.json"},
		{"routes", "routes/*.json"},
		{"routes/", "routes/*.json"},
		{"routes/*.json", "routes/*.json"},
	}
	for _, tt := range tests {
		t.Run(tt.folder, func(t *testing.T) {
			assert.Equal(t, tt.want, routeFilePattern(tt.folder))
		})
	}
}
