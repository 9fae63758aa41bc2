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

// Route DSL, the serialized form of a RouteDefinition.
// Nodes and connections are kept flat; a connection links a parent node to
// one of its outputs, in order.
//
// 路由DSL，RouteDefinition 的序列化形式。节点和连接扁平存储，连接表示父节点到子节点的输出关系，按顺序排列。

// RouteDsl 路由定义
type RouteDsl struct {
	// Route 路由基础信息
	Route RouteBaseInfo `json:"route"`
	// Metadata 路由节点和连接
	Metadata RouteMetadata `json:"metadata"`
}

// RouteBaseInfo 路由基础信息
type RouteBaseInfo struct {
	Id          string `json:"id"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group,omitempty"`
	// From 消费端点URI
	From string `json:"from"`
	// ErrorHandler 路由错误处理器，空则使用引擎默认错误处理器
	ErrorHandler *ErrorHandlerDefinition `json:"errorHandler,omitempty"`
	// Tracing parseable boolean
	Tracing string `json:"tracing,omitempty"`
	// MessageHistory parseable boolean
	MessageHistory string `json:"messageHistory,omitempty"`
	// StreamCaching parseable boolean
	StreamCaching string `json:"streamCaching,omitempty"`
	// Delayer parseable delay in milliseconds applied before each node
	Delayer string `json:"delayer,omitempty"`
	// AutoStartup parseable boolean, default true
	AutoStartup string `json:"autoStartup,omitempty"`
	StartupOrder int   `json:"startupOrder,omitempty"`
	// ShutdownRoute Default or Defer
	ShutdownRoute string `json:"shutdownRoute,omitempty"`
	// ShutdownRunningTask CompleteCurrentTaskOnly or CompleteAllTasks
	ShutdownRunningTask string `json:"shutdownRunningTask,omitempty"`
	// RoutePolicies bean references of route policies
	RoutePolicies []string `json:"routePolicies,omitempty"`
	// InterceptStrategies bean references of route scoped interceptors
	InterceptStrategies []string `json:"interceptStrategies,omitempty"`
	// Properties route properties, usable as ${route.key}
	Properties map[string]string `json:"properties,omitempty"`
}

// RouteMetadata 路由节点定义和连接
type RouteMetadata struct {
	// Outputs ids of the top level nodes, in order
	Outputs []string `json:"outputs"`
	// Nodes 节点定义
	Nodes []*NodeDsl `json:"nodes"`
	// Connections 父子连接定义
	Connections []NodeConnection `json:"connections,omitempty"`
}

// NodeDsl 节点定义
type NodeDsl struct {
	Id   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	// Description 描述
	Description string `json:"description,omitempty"`
	// Configuration 节点配置，值可以包含 ${global.xx} 占位符
	Configuration Configuration `json:"configuration,omitempty"`
	// InheritErrorHandler nil means inherit
	InheritErrorHandler *bool `json:"inheritErrorHandler,omitempty"`
	// InterceptStrategies bean references of node local interceptors
	InterceptStrategies []string `json:"interceptStrategies,omitempty"`
	// Disabled parseable boolean
	Disabled string `json:"disabled,omitempty"`
}

// NodeConnection links a parent node to one of its outputs
// NodeConnection 父节点到子节点的连接
type NodeConnection struct {
	FromId string `json:"fromId"`
	ToId   string `json:"toId"`
}

// Configuration node configuration
// Configuration 节点配置
type Configuration map[string]interface{}

// Copy returns a shallow copy
func (c Configuration) Copy() Configuration {
	n := make(Configuration, len(c))
	for k, v := range c {
		n[k] = v
	}
	return n
}

// ErrorHandlerType 错误处理器类型
type ErrorHandlerType string

const (
	DefaultErrorHandler     ErrorHandlerType = "default"
	DeadLetterChannel       ErrorHandlerType = "deadLetterChannel"
	NoErrorHandler          ErrorHandlerType = "noErrorHandler"
	RefErrorHandler         ErrorHandlerType = "ref"
	DefaultDeadLetterUri                     = "log:deadLetter"
	DefaultRedeliveryDelay                   = 1000
	DefaultMaximumRedeliveryDelay            = 60000
)

// ErrorHandlerDefinition 错误处理器定义
type ErrorHandlerDefinition struct {
	Type ErrorHandlerType `json:"type" mapstructure:"type"`
	// Ref bean reference of an error handler factory when Type is ref
	Ref string `json:"ref,omitempty" mapstructure:"ref"`
	// DeadLetterUri dead letter endpoint for deadLetterChannel
	DeadLetterUri string `json:"deadLetterUri,omitempty" mapstructure:"deadLetterUri"`
	// UseOriginalMessage send the message as it entered the route to the dead letter endpoint
	UseOriginalMessage bool `json:"useOriginalMessage,omitempty" mapstructure:"useOriginalMessage"`
	// Redelivery 重试策略
	Redelivery *RedeliveryPolicyDefinition `json:"redelivery,omitempty" mapstructure:"redelivery"`
}

// RedeliveryPolicyDefinition 重试策略定义
type RedeliveryPolicyDefinition struct {
	MaximumRedeliveries int `json:"maximumRedeliveries" mapstructure:"maximumRedeliveries"`
	// RedeliveryDelay milliseconds
	RedeliveryDelay int64 `json:"redeliveryDelay" mapstructure:"redeliveryDelay"`
	// MaximumRedeliveryDelay milliseconds
	MaximumRedeliveryDelay int64   `json:"maximumRedeliveryDelay" mapstructure:"maximumRedeliveryDelay"`
	BackOffMultiplier      float64 `json:"backOffMultiplier" mapstructure:"backOffMultiplier"`
	UseExponentialBackOff  bool    `json:"useExponentialBackOff" mapstructure:"useExponentialBackOff"`
	UseCollisionAvoidance  bool    `json:"useCollisionAvoidance" mapstructure:"useCollisionAvoidance"`
	LogRetryAttempted      bool    `json:"logRetryAttempted" mapstructure:"logRetryAttempted"`
	// LogExhausted nil means true
	LogExhausted *bool `json:"logExhausted,omitempty" mapstructure:"logExhausted"`
}
