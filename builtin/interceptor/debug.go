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

package interceptor

import (
	"github.com/rulego/routego/api/types"
)

var _ types.InterceptStrategy = (*Debug)(nil)

// Debug calls the OnDebug callback of the engine configuration before and
// after every node, with flow type IN and OUT. Nodes of engines without a
// callback are left unwrapped.
//
// Debug 节点调试拦截器，在节点执行前后调用 Config.OnDebug 回调
type Debug struct {
}

// Order Debug runs innermost among the built-in interceptors
func (i *Debug) Order() int {
	return 900
}

func (i *Debug) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	onDebug := ctx.Config.OnDebug
	if onDebug == nil {
		return target, nil
	}
	routeId := ctx.RouteId
	nodeId := ctx.Node.Id
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		onDebug(routeId, types.In, nodeId, exchange, nil)
		err := types.Run(target, exchange)
		onDebug(routeId, types.Out, nodeId, exchange, err)
		return err
	}), nil
}
