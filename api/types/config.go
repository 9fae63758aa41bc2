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

import (
	"time"
)

// Properties global properties
// Properties 全局属性
type Properties map[string]string

// NewProperties creates empty properties
func NewProperties() Properties {
	return make(Properties)
}

// PutValue sets a property
func (p Properties) PutValue(key, value string) {
	p[key] = value
}

// GetValue returns a property or ""
func (p Properties) GetValue(key string) string {
	return p[key]
}

// Values returns the underlying map
func (p Properties) Values() map[string]string {
	return p
}

// Config defines the configuration for the route engine.
// Config 路由引擎配置
type Config struct {
	// OnDebug is a callback for node debug information, invoked by the debug interceptor.
	// - routeId: The ID of the route.
	// - flowType: IN (before the node) or OUT (after the node).
	// - nodeId: The ID of the node.
	// - exchange: The exchange being processed.
	// - err: Error information, if any.
	// OnDebug 节点调试回调，由调试拦截器调用
	OnDebug func(routeId string, flowType string, nodeId string, exchange *Exchange, err error)
	// Logger is the logging interface, defaulting to a zerolog console logger.
	Logger Logger
	// Properties are global properties in key-value format.
	// Node configurations can replace values with ${global.propertyKey}.
	// Replacement occurs during reification and only once.
	Properties Properties
	// SecretKey is an AES-256 key of 32 characters, used to decrypt ${secrets.key} values of route properties.
	SecretKey string
	// InterceptStrategies global interceptors applied to every node of every route.
	// InterceptStrategies 全局拦截器
	InterceptStrategies []InterceptStrategy
	// Registry bean registry, defaulting to an in-memory registry created by the engine.
	Registry BeanRegistry
	// Languages expression languages, defaulting to expr, simple, js, constant, header, property.
	Languages LanguageResolver
	// Components endpoint components, defaulting to direct, seda, mock, log.
	Components ComponentResolver
	// ThreadPoolProfiles named thread pool profiles, referenced by executorServiceRef.
	ThreadPoolProfiles map[string]ThreadPoolProfile
	// DefaultThreadPoolProfile profile used when a node asks for parallel processing without a reference.
	DefaultThreadPoolProfile ThreadPoolProfile
	// ErrorHandler engine wide error handler, used by routes that define none. Defaults to the default error handler.
	ErrorHandler *ErrorHandlerDefinition
	// ProcessorFactory optional hook overriding the creation of processors.
	ProcessorFactory ProcessorFactory
	// ErrorTypes names of error types used by onException and catch.
	ErrorTypes *ErrorTypeRegistry
	// ShutdownTimeout how long stopping a route waits for inflight exchanges, defaulting to 45 seconds.
	ShutdownTimeout time.Duration
	// Udf functions and scripts made available to the js language.
	Udf map[string]interface{}
	// ScriptMaxExecutionTime is the maximum execution time for scripts, defaulting to 2000 milliseconds.
	ScriptMaxExecutionTime time.Duration
	// Cache shared cache, used by the default idempotent repository.
	Cache Cache
}

// RegisterUdf registers a function or script for the js language.
func (c *Config) RegisterUdf(name string, value interface{}) {
	if c.Udf == nil {
		c.Udf = make(map[string]interface{})
	}
	c.Udf[name] = value
}

// NewConfig creates a new Config and applies the options.
// NewConfig 创建配置
func NewConfig(opts ...Option) Config {
	c := &Config{
		Logger:                   DefaultLogger(),
		Properties:               NewProperties(),
		DefaultThreadPoolProfile: DefaultThreadPoolProfile(),
		ThreadPoolProfiles:       make(map[string]ThreadPoolProfile),
		ErrorTypes:               NewErrorTypeRegistry(),
		ShutdownTimeout:          45 * time.Second,
		ScriptMaxExecutionTime:   2000 * time.Millisecond,
	}
	for _, opt := range opts {
		_ = opt(c)
	}
	return *c
}
