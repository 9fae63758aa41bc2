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
	"fmt"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrOptimisticLocking is returned by optimistic locking repositories on conflicting updates
	ErrOptimisticLocking = xerrors.New("optimistic locking conflict")
	// ErrEngineNotStarted the engine is not started
	ErrEngineNotStarted = xerrors.New("route engine is not started")
	// ErrEngineShuttingDown the engine is shutting down and cannot accept new exchanges
	ErrEngineShuttingDown = xerrors.New("route engine is shutting down")
	// ErrConcurrencyLimitReached the concurrency limit has been reached
	ErrConcurrencyLimitReached = xerrors.New("concurrency limit reached")
	// ErrNoConsumers no consumer is attached to an endpoint
	ErrNoConsumers = xerrors.New("no consumers available on endpoint")
	// ErrDslEmpty the route dsl is empty
	ErrDslEmpty = xerrors.New("dsl can not empty")
)

// IllegalArgumentError invalid or contradictory configuration
// IllegalArgumentError 非法参数，配置错误
type IllegalArgumentError struct {
	Msg string
}

func (e *IllegalArgumentError) Error() string {
	return "illegal argument: " + e.Msg
}

// NewIllegalArgumentError creates an IllegalArgumentError
func NewIllegalArgumentError(format string, args ...interface{}) error {
	return &IllegalArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// IllegalStateError framework misconfiguration or invalid lifecycle use
// IllegalStateError 非法状态
type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string {
	return "illegal state: " + e.Msg
}

// NewIllegalStateError creates an IllegalStateError
func NewIllegalStateError(format string, args ...interface{}) error {
	return &IllegalStateError{Msg: fmt.Sprintf(format, args...)}
}

// LookupError a referenced bean is missing or has the wrong type or cardinality
// LookupError 引用查找失败
type LookupError struct {
	Name string
	Type string
	Msg  string
}

func (e *LookupError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("lookup of type %s failed: %s", e.Type, e.Msg)
	}
	return fmt.Sprintf("lookup of %s (type %s) failed: %s", e.Name, e.Type, e.Msg)
}

// RouteCreationError wraps any error that aborted the creation of a route
// RouteCreationError 路由创建失败
type RouteCreationError struct {
	RouteId string
	NodeId  string
	Err     error
}

func (e *RouteCreationError) Error() string {
	if e.NodeId != "" {
		return fmt.Sprintf("failed to create route %s at node %s: %v", e.RouteId, e.NodeId, e.Err)
	}
	return fmt.Sprintf("failed to create route %s: %v", e.RouteId, e.Err)
}

func (e *RouteCreationError) Unwrap() error {
	return e.Err
}

// RejectedExecutionError an executor refused a task
type RejectedExecutionError struct {
	Msg string
}

func (e *RejectedExecutionError) Error() string {
	return "rejected execution: " + e.Msg
}

// ThrottlerRejectedExecutionError the throttler rejected an exchange over the limit
type ThrottlerRejectedExecutionError struct {
	Max    int
	Period time.Duration
}

func (e *ThrottlerRejectedExecutionError) Error() string {
	return fmt.Sprintf("exceeded the maximum %d requests per %s", e.Max, e.Period)
}

// ClosedCorrelationKeyError an exchange arrived for an already completed and closed group
type ClosedCorrelationKeyError struct {
	Key string
}

func (e *ClosedCorrelationKeyError) Error() string {
	return "the correlation key [" + e.Key + "] has been closed"
}

// OptimisticLockingExhaustedError retries of an optimistic update ran out
type OptimisticLockingExhaustedError struct {
	Attempts int
}

func (e *OptimisticLockingExhaustedError) Error() string {
	return fmt.Sprintf("Exhausted optimistic locking retry attempts, tried %d times", e.Attempts)
}

func (e *OptimisticLockingExhaustedError) Unwrap() error {
	return ErrOptimisticLocking
}

// ExchangeTimedOutError processing did not finish in time
type ExchangeTimedOutError struct {
	ExchangeId string
	Timeout    time.Duration
}

func (e *ExchangeTimedOutError) Error() string {
	return fmt.Sprintf("exchange %s timed out after %s", e.ExchangeId, e.Timeout)
}

// CircuitOpenError the circuit breaker rejected the call
type CircuitOpenError struct {
	Name  string
	State string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// RollbackError marks an exchange for rollback
type RollbackError struct {
	Msg string
}

func (e *RollbackError) Error() string {
	return "rollback: " + e.Msg
}

// PredicateValidationError the validate node found the exchange not matching its predicate
type PredicateValidationError struct {
	ExchangeId string
	Predicate  string
}

func (e *PredicateValidationError) Error() string {
	return fmt.Sprintf("validation failed for predicate %s on exchange %s", e.Predicate, e.ExchangeId)
}

// ExchangeError a runtime fault bound to an exchange
// ExchangeError 与交换相关的运行时错误
type ExchangeError struct {
	ExchangeId string
	Msg        string
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s on exchange %s: %v", e.Msg, e.ExchangeId, e.Err)
	}
	return fmt.Sprintf("%s on exchange %s", e.Msg, e.ExchangeId)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError creates an ExchangeError
func NewExchangeError(exchange *Exchange, err error, format string, args ...interface{}) error {
	id := ""
	if exchange != nil {
		id = exchange.Id()
	}
	return &ExchangeError{ExchangeId: id, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ThrownError raised by the throwException node, matched by its type name
type ThrownError struct {
	TypeName string
	Msg      string
}

func (e *ThrownError) Error() string {
	return e.TypeName + ": " + e.Msg
}

// IsIllegalArgument reports whether err wraps an IllegalArgumentError
func IsIllegalArgument(err error) bool {
	var target *IllegalArgumentError
	return xerrors.As(err, &target)
}

// IsIllegalState reports whether err wraps an IllegalStateError
func IsIllegalState(err error) bool {
	var target *IllegalStateError
	return xerrors.As(err, &target)
}

// IsLookup reports whether err wraps a LookupError
func IsLookup(err error) bool {
	var target *LookupError
	return xerrors.As(err, &target)
}

// IsRouteCreation reports whether err wraps a RouteCreationError
func IsRouteCreation(err error) bool {
	var target *RouteCreationError
	return xerrors.As(err, &target)
}

// ErrorMatcher tests a single error, not its chain
type ErrorMatcher func(err error) bool

// ErrorTypeRegistry maps error type names used by onException and catch to matchers.
// ErrorTypeRegistry 错误类型注册表，onException 和 catch 通过名称匹配错误
type ErrorTypeRegistry struct {
	mu       sync.RWMutex
	matchers map[string]ErrorMatcher
}

// NewErrorTypeRegistry creates a registry with the built-in error types
func NewErrorTypeRegistry() *ErrorTypeRegistry {
	r := &ErrorTypeRegistry{matchers: make(map[string]ErrorMatcher)}
	r.Register("error", func(err error) bool { return err != nil })
	r.Register("IllegalArgumentError", func(err error) bool { _, ok := err.(*IllegalArgumentError); return ok })
	r.Register("IllegalStateError", func(err error) bool { _, ok := err.(*IllegalStateError); return ok })
	r.Register("LookupError", func(err error) bool { _, ok := err.(*LookupError); return ok })
	r.Register("RejectedExecutionError", func(err error) bool { _, ok := err.(*RejectedExecutionError); return ok })
	r.Register("ThrottlerRejectedExecutionError", func(err error) bool { _, ok := err.(*ThrottlerRejectedExecutionError); return ok })
	r.Register("ClosedCorrelationKeyError", func(err error) bool { _, ok := err.(*ClosedCorrelationKeyError); return ok })
	r.Register("ExchangeTimedOutError", func(err error) bool { _, ok := err.(*ExchangeTimedOutError); return ok })
	r.Register("CircuitOpenError", func(err error) bool { _, ok := err.(*CircuitOpenError); return ok })
	r.Register("RollbackError", func(err error) bool { _, ok := err.(*RollbackError); return ok })
	r.Register("PredicateValidationError", func(err error) bool { _, ok := err.(*PredicateValidationError); return ok })
	r.Register("ExchangeError", func(err error) bool { _, ok := err.(*ExchangeError); return ok })
	r.Register("OptimisticLockingError", func(err error) bool {
		_, ok := err.(*OptimisticLockingExhaustedError)
		return ok || err == ErrOptimisticLocking
	})
	return r
}

// Register adds or replaces a matcher
func (r *ErrorTypeRegistry) Register(name string, matcher ErrorMatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers[name] = matcher
}

// Resolve returns the matcher for name. Unknown names match ThrownError values
// of the same type name.
func (r *ErrorTypeRegistry) Resolve(name string) ErrorMatcher {
	r.mu.RLock()
	m, ok := r.matchers[name]
	r.mu.RUnlock()
	if ok {
		return m
	}
	return func(err error) bool {
		t, ok := err.(*ThrownError)
		return ok && t.TypeName == name
	}
}

// Matches reports whether err itself (not its chain) matches name
func (r *ErrorTypeRegistry) Matches(name string, err error) bool {
	if err == nil {
		return false
	}
	if t, ok := err.(*ThrownError); ok && t.TypeName == name {
		return true
	}
	return r.Resolve(name)(err)
}

// Chain returns err followed by every error it wraps, outermost first
func Chain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		err = xerrors.Unwrap(err)
	}
	return chain
}
