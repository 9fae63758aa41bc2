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

// Endpoint is a sendable and consumable target addressed by a URI.
// Endpoint 端点，通过URI寻址
type Endpoint interface {
	Uri() string
	CreateProducer() (Producer, error)
	CreateConsumer(processor Processor) (Consumer, error)
}

// Producer sends exchanges to its endpoint
type Producer interface {
	Processor
	Service
	Endpoint() Endpoint
}

// Consumer feeds exchanges from its endpoint into a processor
type Consumer interface {
	Service
	Endpoint() Endpoint
}

// SuspendableConsumer consumers that can pause intake without stopping
type SuspendableConsumer interface {
	Consumer
	Suspend()
	Resume()
	IsSuspended() bool
}

// EndpointResolver resolves a URI to an endpoint
type EndpointResolver interface {
	ResolveEndpoint(uri string) (Endpoint, error)
}

// EngineContext gives components access to the engine they run in
// EngineContext 组件运行所需的引擎上下文
type EngineContext interface {
	EndpointResolver
	Config() Config
}

// Component creates endpoints for a URI scheme.
// Component 组件，按scheme创建端点
type Component interface {
	// Scheme uri scheme, e.g. direct, seda, mock
	Scheme() string
	// CreateEndpoint creates the endpoint for uri. remaining is the part after "scheme:" without parameters.
	CreateEndpoint(ctx EngineContext, uri string, remaining string, params map[string]string) (Endpoint, error)
}

// ComponentResolver resolves components by scheme
type ComponentResolver interface {
	ResolveComponent(scheme string) (Component, bool)
}
