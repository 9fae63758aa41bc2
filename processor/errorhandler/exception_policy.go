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

package errorhandler

import (
	"sync"

	"github.com/rulego/routego/api/types"
)

// CatchAllErrorType the error type name matching every error
const CatchAllErrorType = "error"

// ExceptionPolicy an onException clause of a route
// ExceptionPolicy 异常策略
type ExceptionPolicy struct {
	Id string
	// ErrorTypes names resolved through the ErrorTypeRegistry
	ErrorTypes []string
	// OnWhen extra condition for the policy to apply
	OnWhen types.Predicate
	// Handled the fault is cleared and routing stops
	Handled types.Predicate
	// Continued the fault is cleared and routing continues
	Continued types.Predicate
	// RetryWhile overrides the redelivery count while it matches
	RetryWhile types.Predicate
	// Redelivery overrides the error handler redelivery policy
	Redelivery *RedeliveryPolicy
	// Processor runs once redelivery is exhausted
	Processor          types.Processor
	UseOriginalMessage bool
}

// IsCatchAll reports whether the policy applies to any error
func (p *ExceptionPolicy) IsCatchAll() bool {
	if len(p.ErrorTypes) == 0 {
		return true
	}
	for _, name := range p.ErrorTypes {
		if name == CatchAllErrorType {
			return true
		}
	}
	return false
}

func (p *ExceptionPolicy) matchesType(registry *types.ErrorTypeRegistry, err error) bool {
	for _, name := range p.ErrorTypes {
		if registry.Matches(name, err) {
			return true
		}
	}
	return len(p.ErrorTypes) == 0
}

func (p *ExceptionPolicy) matchesWhen(exchange *types.Exchange) bool {
	if p.OnWhen == nil {
		return true
	}
	ok, err := p.OnWhen.Matches(exchange)
	return err == nil && ok
}

// ExceptionPolicyResolver picks the onException policy for a fault. Policies
// naming a type matching the fault or any error it wraps win over catch-all
// policies. Among equals the first registered wins.
//
// ExceptionPolicyResolver 异常策略解析：优先匹配具体错误类型，最后匹配兜底策略
type ExceptionPolicyResolver struct {
	registry *types.ErrorTypeRegistry
	mu       sync.RWMutex
	policies []*ExceptionPolicy
}

func NewExceptionPolicyResolver(registry *types.ErrorTypeRegistry) *ExceptionPolicyResolver {
	if registry == nil {
		registry = types.NewErrorTypeRegistry()
	}
	return &ExceptionPolicyResolver{registry: registry}
}

// Add registers a policy
func (r *ExceptionPolicyResolver) Add(policy *ExceptionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = append(r.policies, policy)
}

// Policies registered policies in order
func (r *ExceptionPolicyResolver) Policies() []*ExceptionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ExceptionPolicy(nil), r.policies...)
}

// Resolve returns the policy for err, nil when none applies
func (r *ExceptionPolicyResolver) Resolve(exchange *types.Exchange, err error) *ExceptionPolicy {
	if r == nil || err == nil {
		return nil
	}
	policies := r.Policies()
	if len(policies) == 0 {
		return nil
	}
	chain := types.Chain(err)
	for _, catchAll := range []bool{false, true} {
		for _, e := range chain {
			for _, p := range policies {
				if p.IsCatchAll() != catchAll {
					continue
				}
				if p.matchesType(r.registry, e) && p.matchesWhen(exchange) {
					return p
				}
			}
		}
	}
	return nil
}
