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

package types

// The interface provides an interception mechanism around every node of a route.
//
//   - It allows adding extra behavior to route execution without modifying the nodes.
//   - It allows separating common behaviors (logging, tracing, metrics, debugging, limiting) from the business logic.
//
// 该接口提供路由节点的拦截机制。
//
//   - 它允许在不修改节点逻辑的情况下，对路由的执行添加额外的行为。
//   - 它允许把一些公共的行为（例如：日志、跟踪、指标、调试、限流）从业务逻辑中分离出来。
//
// Interceptors are applied at three scopes, in this order: engine (global), route, node local.
// The first interceptor is the outermost, so global interceptors always see the exchange first.
// 拦截器按 引擎(全局)、路由、节点 三个范围依次应用，第一个拦截器在最外层。

// InterceptContext describes the node being wrapped
// InterceptContext 被拦截节点的上下文
type InterceptContext struct {
	// RouteId 路由ID
	RouteId string
	// Route 路由定义
	Route *RouteDefinition
	// Node the node wrapped by the channel
	Node *NodeDefinition
	// Config engine configuration
	Config Config
}

// InterceptStrategy wraps node processors with interceptors
// InterceptStrategy 拦截策略
type InterceptStrategy interface {
	//Order returns the order, the smaller the value, the outer the interceptor
	//Order 返回执行顺序，值越小，越在外层
	Order() int
	// WrapProcessorInInterceptors wraps target, the processor built so far. next is the bare node processor.
	// WrapProcessorInInterceptors 包装目标处理器，next 为原始节点处理器
	WrapProcessorInInterceptors(ctx InterceptContext, target Processor, next Processor) (Processor, error)
}

// InterceptStrategyFunc adapts a function to InterceptStrategy with order 0
type InterceptStrategyFunc func(ctx InterceptContext, target Processor, next Processor) (Processor, error)

func (f InterceptStrategyFunc) Order() int {
	return 0
}

func (f InterceptStrategyFunc) WrapProcessorInInterceptors(ctx InterceptContext, target Processor, next Processor) (Processor, error) {
	return f(ctx, target, next)
}
