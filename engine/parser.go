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
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/json"
)

// JsonParser Json
type JsonParser struct {
}

// DecodeRoute 通过json解析路由DSL结构体
func (p *JsonParser) DecodeRoute(dsl []byte) (types.RouteDsl, error) {
	var def types.RouteDsl
	if len(dsl) == 0 {
		return def, types.ErrDslEmpty
	}
	err := json.Unmarshal(dsl, &def)
	return def, err
}

// DecodeNode 通过json解析节点结构体
func (p *JsonParser) DecodeNode(dsl []byte) (types.NodeDsl, error) {
	var def types.NodeDsl
	if len(dsl) == 0 {
		return def, types.ErrDslEmpty
	}
	err := json.Unmarshal(dsl, &def)
	return def, err
}

func (p *JsonParser) EncodeRoute(def interface{}) ([]byte, error) {
	//格式化Json
	return json.MarshalIndent(def, "", "  ")
}

// ParseRoute decodes a JSON route and builds its frozen definition
// ParseRoute 解析JSON路由并构建冻结的路由定义
func ParseRoute(dsl []byte) (*types.RouteDefinition, error) {
	var parser JsonParser
	routeDsl, err := parser.DecodeRoute(dsl)
	if err != nil {
		return nil, err
	}
	return types.NewRouteDefinitionFromDsl(routeDsl)
}

// EncodeRoute serializes def to formatted JSON
func EncodeRoute(def *types.RouteDefinition) ([]byte, error) {
	var parser JsonParser
	return parser.EncodeRoute(def.ToDsl())
}
