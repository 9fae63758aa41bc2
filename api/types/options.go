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

package types

import (
	"time"
)

// Option is a function type that modifies the Config.
type Option func(*Config) error

// WithOnDebug is an option that sets the on debug callback of the Config.
func WithOnDebug(onDebug func(routeId string, flowType string, nodeId string, exchange *Exchange, err error)) Option {
	return func(c *Config) error {
		c.OnDebug = onDebug
		return nil
	}
}

// WithLogger is an option that sets the logger of the Config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithProperties is an option that sets the global properties of the Config.
func WithProperties(properties Properties) Option {
	return func(c *Config) error {
		c.Properties = properties
		return nil
	}
}

// WithSecretKey is an option that sets the secret key of the Config.
func WithSecretKey(secretKey string) Option {
	return func(c *Config) error {
		c.SecretKey = secretKey
		return nil
	}
}

// WithInterceptStrategies is an option that appends global interceptors.
func WithInterceptStrategies(strategies ...InterceptStrategy) Option {
	return func(c *Config) error {
		c.InterceptStrategies = append(c.InterceptStrategies, strategies...)
		return nil
	}
}

// WithBeanRegistry is an option that sets the bean registry.
func WithBeanRegistry(registry BeanRegistry) Option {
	return func(c *Config) error {
		c.Registry = registry
		return nil
	}
}

// WithLanguages is an option that sets the language resolver.
func WithLanguages(languages LanguageResolver) Option {
	return func(c *Config) error {
		c.Languages = languages
		return nil
	}
}

// WithComponents is an option that sets the component resolver.
func WithComponents(components ComponentResolver) Option {
	return func(c *Config) error {
		c.Components = components
		return nil
	}
}

// WithThreadPoolProfile is an option that registers a named thread pool profile.
func WithThreadPoolProfile(profile ThreadPoolProfile) Option {
	return func(c *Config) error {
		if c.ThreadPoolProfiles == nil {
			c.ThreadPoolProfiles = make(map[string]ThreadPoolProfile)
		}
		c.ThreadPoolProfiles[profile.Id] = profile
		return nil
	}
}

// WithDefaultThreadPoolProfile is an option that replaces the default thread pool profile.
func WithDefaultThreadPoolProfile(profile ThreadPoolProfile) Option {
	return func(c *Config) error {
		c.DefaultThreadPoolProfile = profile.Merge(DefaultThreadPoolProfile())
		return nil
	}
}

// WithErrorHandler is an option that sets the engine wide error handler.
func WithErrorHandler(def *ErrorHandlerDefinition) Option {
	return func(c *Config) error {
		c.ErrorHandler = def
		return nil
	}
}

// WithProcessorFactory is an option that sets the processor factory hook.
func WithProcessorFactory(factory ProcessorFactory) Option {
	return func(c *Config) error {
		c.ProcessorFactory = factory
		return nil
	}
}

// WithErrorTypes is an option that sets the error type registry.
func WithErrorTypes(errorTypes *ErrorTypeRegistry) Option {
	return func(c *Config) error {
		c.ErrorTypes = errorTypes
		return nil
	}
}

// WithShutdownTimeout is an option that sets the route shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.ShutdownTimeout = timeout
		return nil
	}
}

// WithUdf is an option that registers functions for the js language.
func WithUdf(udf map[string]interface{}) Option {
	return func(c *Config) error {
		for k, v := range udf {
			c.RegisterUdf(k, v)
		}
		return nil
	}
}

// WithCache is an option that sets the shared cache.
func WithCache(cache Cache) Option {
	return func(c *Config) error {
		c.Cache = cache
		return nil
	}
}
