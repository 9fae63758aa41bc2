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

package processor

import (
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfiguration 熔断器配置
type CircuitBreakerConfiguration struct {
	// FailureRatio failure ratio that opens the circuit, default 0.5
	FailureRatio float64
	// MinimumNumberOfCalls calls needed before the ratio is considered, default 10
	MinimumNumberOfCalls uint32
	// WaitDurationInOpenState milliseconds the circuit stays open, default 60000
	WaitDurationInOpenState int64
	// PermittedNumberOfCallsInHalfOpenState calls let through while half open, default 10
	PermittedNumberOfCallsInHalfOpenState uint32
	// SlidingWindowMillis period after which closed state counts are cleared, 0 never clears
	SlidingWindowMillis int64
}

// DefaultCircuitBreakerConfiguration returns the defaults
func DefaultCircuitBreakerConfiguration() CircuitBreakerConfiguration {
	return CircuitBreakerConfiguration{
		FailureRatio:                          0.5,
		MinimumNumberOfCalls:                  10,
		WaitDurationInOpenState:               60000,
		PermittedNumberOfCallsInHalfOpenState: 10,
	}
}

// CircuitBreakerProcessor protects its child with a circuit breaker. When the
// circuit is open, or the child fails, the fallback runs if there is one.
//
// CircuitBreakerProcessor 熔断器，熔断打开或子处理器失败时执行降级处理器
type CircuitBreakerProcessor struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	child    types.Processor
	fallback types.Processor
}

func NewCircuitBreakerProcessor(name string, config CircuitBreakerConfiguration, child, fallback types.Processor, logger types.Logger) *CircuitBreakerProcessor {
	defaults := DefaultCircuitBreakerConfiguration()
	if config.FailureRatio <= 0 {
		config.FailureRatio = defaults.FailureRatio
	}
	if config.MinimumNumberOfCalls == 0 {
		config.MinimumNumberOfCalls = defaults.MinimumNumberOfCalls
	}
	if config.WaitDurationInOpenState <= 0 {
		config.WaitDurationInOpenState = defaults.WaitDurationInOpenState
	}
	if config.PermittedNumberOfCallsInHalfOpenState == 0 {
		config.PermittedNumberOfCallsInHalfOpenState = defaults.PermittedNumberOfCallsInHalfOpenState
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.PermittedNumberOfCallsInHalfOpenState,
		Interval:    time.Duration(config.SlidingWindowMillis) * time.Millisecond,
		Timeout:     time.Duration(config.WaitDurationInOpenState) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinimumNumberOfCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Printf("circuit breaker %s changed from %s to %s", name, from, to)
		}
	}
	return &CircuitBreakerProcessor{
		name:     name,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		child:    child,
		fallback: fallback,
	}
}

func (x *CircuitBreakerProcessor) Process(exchange *types.Exchange) error {
	_, err := x.breaker.Execute(func() (interface{}, error) {
		return nil, types.Run(x.child, exchange)
	})
	exchange.SetProperty(types.PropertyCircuitBreakerState, x.breaker.State().String())
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		err = &types.CircuitOpenError{Name: x.name, State: x.breaker.State().String()}
	}
	if x.fallback == nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetErr(nil)
	exchange.SetProperty(types.PropertyExceptionCaught, err)
	exchange.SetProperty(types.PropertyCircuitBreakerFallback, true)
	return types.Run(x.fallback, exchange)
}

// State current breaker state: closed, half-open or open
func (x *CircuitBreakerProcessor) State() string {
	return x.breaker.State().String()
}

func (x *CircuitBreakerProcessor) Next() []types.Processor {
	next := []types.Processor{x.child}
	if x.fallback != nil {
		next = append(next, x.fallback)
	}
	return next
}
