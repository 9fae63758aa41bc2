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

import "context"

// RouteController starts and stops routes
// RouteController 路由控制器
type RouteController interface {
	StartRoute(ctx context.Context, routeId string) error
	StopRoute(ctx context.Context, routeId string) error
	SuspendRoute(routeId string) error
	ResumeRoute(routeId string) error
}

// RouteInfo a read-only view of a running route
// RouteInfo 运行中的路由信息
type RouteInfo interface {
	RouteId() string
	Definition() *RouteDefinition
	Config() Config
	Controller() RouteController
	// InflightCount number of exchanges currently inside the route
	InflightCount() int
}

// RoutePolicy is notified of route lifecycle and exchange events
// RoutePolicy 路由策略
type RoutePolicy interface {
	OnInit(route RouteInfo)
	OnStart(route RouteInfo)
	OnStop(route RouteInfo)
	OnExchangeBegin(route RouteInfo, exchange *Exchange)
	OnExchangeDone(route RouteInfo, exchange *Exchange)
}

// RoutePolicySupport no-op RoutePolicy to embed
type RoutePolicySupport struct{}

func (RoutePolicySupport) OnInit(RouteInfo)                     {}
func (RoutePolicySupport) OnStart(RouteInfo)                    {}
func (RoutePolicySupport) OnStop(RouteInfo)                     {}
func (RoutePolicySupport) OnExchangeBegin(RouteInfo, *Exchange) {}
func (RoutePolicySupport) OnExchangeDone(RouteInfo, *Exchange)  {}

// Policy wraps the processors of a policy node
// Policy 策略，包装 policy 节点的子处理器
type Policy interface {
	// BeforeWrap is called before the children are created
	BeforeWrap(route RouteInfo, node *NodeDefinition)
	Wrap(route RouteInfo, processor Processor) (Processor, error)
}

// PropagationRequired the default transacted policy name
const PropagationRequired = "PROPAGATION_REQUIRED"

// TransactedPolicy the capability required by the transacted node.
// Implementations are bound in the bean registry.
// TransactedPolicy 事务策略能力接口，通过Bean注册表解析
type TransactedPolicy interface {
	Policy
	// Propagation propagation behavior name, e.g. PROPAGATION_REQUIRED
	Propagation() string
}

// ProcessorFactory overrides the default creation of processors. Returning
// nil falls back to the default reification.
// ProcessorFactory 自定义处理器工厂，返回nil则使用默认实现
type ProcessorFactory interface {
	CreateProcessor(route RouteInfo, node *NodeDefinition) (Processor, error)
	CreateChildProcessor(route RouteInfo, node *NodeDefinition, mandatory bool) (Processor, error)
}

// ErrorHandlerFactory creates the error handler guarding a channel output.
// A factory bound in the bean registry is used by routes whose error handler type is ref.
// ErrorHandlerFactory 错误处理器工厂
type ErrorHandlerFactory interface {
	CreateErrorHandler(route RouteInfo, output Processor) (Processor, error)
}
