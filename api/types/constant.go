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

const (
	// Global config properties placeholder prefix ${global.key}
	Global = "global"
	// Secrets encrypted properties placeholder prefix ${secrets.key}
	Secrets = "secrets"
	// RouteVars route properties placeholder prefix ${route.key}
	RouteVars = "route"
)

// Debug flow types
const (
	In  = "IN"
	Out = "OUT"
)

// Exchange property keys
// 交换属性key
const (
	PropertyCorrelationId            = "CorrelationId"
	PropertyAggregatedSize           = "AggregatedSize"
	PropertyAggregatedCompletedBy    = "AggregatedCompletedBy"
	PropertyAggregatedCorrelationKey = "AggregatedCorrelationKey"
	PropertyAggregatedTimeout        = "AggregatedTimeout"
	PropertyAggregatedVersion        = "AggregatedVersion"
	PropertyBatchSize                = "BatchSize"
	PropertyBatchIndex               = "BatchIndex"
	PropertyBatchComplete            = "BatchComplete"
	PropertySplitIndex               = "SplitIndex"
	PropertySplitSize                = "SplitSize"
	PropertySplitComplete            = "SplitComplete"
	PropertyMulticastIndex           = "MulticastIndex"
	PropertyMulticastComplete        = "MulticastComplete"
	PropertyRecipientListEndpoint    = "RecipientListEndpoint"
	PropertyLoopIndex                = "LoopIndex"
	PropertyLoopSize                 = "LoopSize"
	PropertyExceptionCaught          = "ExceptionCaught"
	PropertyFailureEndpoint          = "FailureEndpoint"
	PropertyFailureRouteId           = "FailureRouteId"
	PropertyErrorHandlerHandled      = "ErrorHandlerHandled"
	PropertyMessageHistory           = "MessageHistory"
	PropertyToEndpoint               = "ToEndpoint"
	PropertySlipEndpoint             = "SlipEndpoint"
	PropertyRedeliveryExhausted      = "RedeliveryExhausted"
	PropertyTimerFiredTime           = "TimerFiredTime"
	PropertyThrottled                = "Throttled"
	PropertyThrottlerRejected        = "ThrottlerRejected"
	PropertyDuplicateMessage         = "DuplicateMessage"
	PropertyOnCompletion             = "OnCompletion"
	PropertyCircuitBreakerState      = "CircuitBreakerState"
	PropertyCircuitBreakerFallback   = "CircuitBreakerResponseFromFallback"
	PropertySagaLongRunningAction    = "SagaLongRunningAction"
	PropertyOriginalMessage          = "OriginalMessage"
	PropertyFilterMatched            = "FilterMatched"
	PropertyStepId                   = "StepId"
	PropertyInterceptedEndpoint      = "InterceptedEndpoint"
	PropertyLoadBalancerIndex        = "LoadBalancerIndex"
)

// Header keys
// 消息头key
const (
	HeaderRedelivered                           = "Redelivered"
	HeaderRedeliveryCounter                     = "RedeliveryCounter"
	HeaderRedeliveryMaxCounter                  = "RedeliveryMaxCounter"
	HeaderAggregationCompleteAllGroups          = "AggregationCompleteAllGroups"
	HeaderAggregationCompleteAllGroupsInclusive = "AggregationCompleteAllGroupsInclusive"
	HeaderAggregationCompleteCurrentGroup       = "AggregationCompleteCurrentGroup"
	HeaderSagaLongRunningAction                 = "Long-Running-Action"
	HeaderResequencerSequence                   = "ResequencerSequence"
)

// Aggregation completed-by values
const (
	CompletedBySize      = "size"
	CompletedByPredicate = "predicate"
	CompletedByConsumer  = "consumer"
	CompletedByStrategy  = "strategy"
	CompletedByInterval  = "interval"
	CompletedByTimeout   = "timeout"
	CompletedByForce     = "force"
)
