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

package base

import (
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/maps"
)

// DefaultEndpoint holds what every in-process endpoint knows about itself.
// DefaultEndpoint 端点公共字段
type DefaultEndpoint struct {
	uri string
	// Name the part of the uri after the scheme, without parameters
	Name string
	// Ctx engine the endpoint was created by
	Ctx types.EngineContext
}

// NewDefaultEndpoint 创建端点公共字段
func NewDefaultEndpoint(ctx types.EngineContext, uri, name string) DefaultEndpoint {
	return DefaultEndpoint{uri: uri, Name: name, Ctx: ctx}
}

// Uri the endpoint uri
func (e *DefaultEndpoint) Uri() string {
	return e.uri
}

// Logger the engine logger, or the default logger without an engine
func (e *DefaultEndpoint) Logger() types.Logger {
	if e.Ctx == nil {
		return types.NewLogger(nil)
	}
	return types.NewLogger(e.Ctx.Config().Logger)
}

// DecodeParams decodes uri parameters into an endpoint configuration struct.
// Parameter names match field names case-insensitively, values are weakly typed.
func DecodeParams(uri string, params map[string]string, config interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := maps.Map2Struct(params, config); err != nil {
		return types.NewIllegalArgumentError("invalid parameters of endpoint %s: %v", uri, err)
	}
	return nil
}

// NotSupported error returned by endpoints that cannot produce or consume
func NotSupported(uri, what string) error {
	return types.NewIllegalArgumentError("endpoint %s does not support %s", uri, what)
}
