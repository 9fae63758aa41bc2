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

// Package routego provides an embedded routing engine that compiles declarative
// routes of enterprise integration patterns into processing graphs.
//
// # Usage
//
// Routes are built with the builder package or loaded from JSON:
//
//	{
//	  "route": {"id": "orders", "from": "direct:orders"},
//	  "metadata": {
//	    "outputs": ["c1"],
//	    "nodes": [
//	      {"id": "c1", "kind": "choice"},
//	      {"id": "w1", "kind": "when", "configuration": {"expression": {"language": "expr", "expression": "body > 10"}}},
//	      {"id": "toBig", "kind": "to", "configuration": {"uri": "mock:big"}}
//	    ],
//	    "connections": [
//	      {"fromId": "c1", "toId": "w1"},
//	      {"fromId": "w1", "toId": "toBig"}
//	    ]
//	  }
//	}
//
// Create an engine and add the route
//
//	e := routego.New()
//	_, err := e.AddRouteFromDSL(ctx, dsl)
//	err = e.Start(ctx)
//
// Send an exchange
//
//	err = e.Send(ctx, "direct:orders", types.NewExchange(ctx, 42))
//
// Load every route of a folder into a named engine of the pool
//
//	e, err := routego.Load(ctx, "./routes")
//
// Package routego 路由引擎
package routego

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/engine"
	"github.com/rulego/routego/utils/fs"
)

// DefaultEngineId id of the engine used by the package level Load
const DefaultEngineId = "default"

// DefaultRouteGo 默认引擎实例池
var DefaultRouteGo = &RouteGo{}

// New creates a route engine that is not part of any pool
func New(opts ...types.Option) *engine.RouteEngine {
	return engine.New(opts...)
}

// RouteGo 路由引擎实例池
type RouteGo struct {
	engines sync.Map
}

// New returns the engine id, creating it with opts if it does not exist yet
func (g *RouteGo) New(id string, opts ...types.Option) (*engine.RouteEngine, error) {
	if id == "" {
		return nil, types.NewIllegalArgumentError("engine id must not be empty")
	}
	if v, ok := g.engines.Load(id); ok {
		return v.(*engine.RouteEngine), nil
	}
	v, _ := g.engines.LoadOrStore(id, engine.New(opts...))
	return v.(*engine.RouteEngine), nil
}

// Get 获取指定ID引擎实例
func (g *RouteGo) Get(id string) (*engine.RouteEngine, bool) {
	v, ok := g.engines.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*engine.RouteEngine), true
}

// Del stops the engine id and removes it from the pool
func (g *RouteGo) Del(ctx context.Context, id string) error {
	v, ok := g.engines.LoadAndDelete(id)
	if !ok {
		return nil
	}
	return v.(*engine.RouteEngine).Stop(ctx)
}

// Range calls f for every engine until f returns false
func (g *RouteGo) Range(f func(id string, e *engine.RouteEngine) bool) {
	g.engines.Range(func(key, value interface{}) bool {
		return f(key.(string), value.(*engine.RouteEngine))
	})
}

// Stop stops and removes all engines
func (g *RouteGo) Stop(ctx context.Context) error {
	var eg errgroup.Group
	g.engines.Range(func(key, value interface{}) bool {
		g.engines.Delete(key)
		e := value.(*engine.RouteEngine)
		eg.Go(func() error {
			return e.Stop(ctx)
		})
		return true
	})
	return eg.Wait()
}

// Load adds every route DSL file (*.json) found in folderPath and its sub
// folders to the engine id, then starts the engine. folderPath may also be a
// glob pattern such as ./routes/*.json.
//
// Load 加载指定文件夹及其子文件夹所有路由配置到引擎
func (g *RouteGo) Load(ctx context.Context, id, folderPath string, opts ...types.Option) (*engine.RouteEngine, error) {
	paths, err := fs.GetFilePaths(routeFilePattern(folderPath))
	if err != nil {
		return nil, err
	}
	e, err := g.New(id, opts...)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		dsl := fs.LoadFile(path)
		if dsl == nil {
			continue
		}
		if _, err := e.AddRouteFromDSL(ctx, dsl); err != nil {
			return nil, types.NewIllegalArgumentError("load %s: %v", path, err)
		}
	}
	if !e.IsStarted() {
		if err := e.Start(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func routeFilePattern(folderPath string) string {
	if strings.HasSuffix(folderPath, "*.json") || strings.HasSuffix(folderPath, "*.JSON") {
		return folderPath
	}
	if folderPath == "" {
		return "./*.json"
	}
	if strings.HasSuffix(folderPath, "/") || strings.HasSuffix(folderPath, "\\") {
		return folderPath + "*.json"
	}
	return folderPath + "/*.json"
}

// Load loads the routes of folderPath into the default engine of DefaultRouteGo
func Load(ctx context.Context, folderPath string, opts ...types.Option) (*engine.RouteEngine, error) {
	return DefaultRouteGo.Load(ctx, DefaultEngineId, folderPath, opts...)
}

// Get returns the engine id of DefaultRouteGo
func Get(id string) (*engine.RouteEngine, bool) {
	return DefaultRouteGo.Get(id)
}

// Del stops and removes the engine id of DefaultRouteGo
func Del(ctx context.Context, id string) error {
	return DefaultRouteGo.Del(ctx, id)
}

// Stop stops all engines of DefaultRouteGo
func Stop(ctx context.Context) error {
	return DefaultRouteGo.Stop(ctx)
}
