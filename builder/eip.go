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

package builder

import (
	"github.com/rulego/routego/api/types"
)

// Simple a simple language template such as order-${header.id}
func Simple(text string) types.ExpressionDefinition {
	return types.ExpressionDefinition{Language: "simple", Expression: text}
}

// Expr an expr language expression such as header.size > 10
func Expr(text string) types.ExpressionDefinition {
	return types.ExpressionDefinition{Language: "expr", Expression: text}
}

// JS a javascript expression
func JS(text string) types.ExpressionDefinition {
	return types.ExpressionDefinition{Language: "js", Expression: text}
}

// Constant an expression evaluating to text
func Constant(text string) types.ExpressionDefinition {
	return types.ExpressionDefinition{Language: "constant", Expression: text}
}

// Header an expression reading the header name
func Header(name string) types.ExpressionDefinition {
	return types.ExpressionDefinition{Language: "header", Expression: name}
}

func with(options Options, kv ...interface{}) Options {
	merged := Options{}
	for k, v := range options {
		merged[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		merged[kv[i].(string)] = kv[i+1]
	}
	return merged
}

// To sends to uri
func (r *RouteBuilder) To(uri string) *RouteBuilder {
	return r.Node(types.KindTo, Options{"uri": uri})
}

// ToD sends to the uri computed by a simple template
func (r *RouteBuilder) ToD(uri string) *RouteBuilder {
	return r.Node(types.KindToD, Options{"uri": uri})
}

// WireTap sends a copy to uri without waiting
func (r *RouteBuilder) WireTap(uri string) *RouteBuilder {
	return r.Node(types.KindWireTap, Options{"uri": uri})
}

func (r *RouteBuilder) RoutingSlip(expression interface{}) *RouteBuilder {
	return r.Node(types.KindRoutingSlip, Options{"expression": expression})
}

func (r *RouteBuilder) RecipientList(expression interface{}, options Options) *RouteBuilder {
	return r.Node(types.KindRecipientList, with(options, "expression", expression))
}

// Log logs a simple template
func (r *RouteBuilder) Log(message string) *RouteBuilder {
	return r.Node(types.KindLog, Options{"message": message})
}

func (r *RouteBuilder) SetBody(expression interface{}) *RouteBuilder {
	return r.Node(types.KindSetBody, Options{"expression": expression})
}

func (r *RouteBuilder) Transform(expression interface{}) *RouteBuilder {
	return r.Node(types.KindTransform, Options{"expression": expression})
}

func (r *RouteBuilder) SetHeader(name string, expression interface{}) *RouteBuilder {
	return r.Node(types.KindSetHeader, Options{"name": name, "expression": expression})
}

func (r *RouteBuilder) SetProperty(name string, expression interface{}) *RouteBuilder {
	return r.Node(types.KindSetProperty, Options{"name": name, "expression": expression})
}

// RemoveHeader removes the headers matching pattern
func (r *RouteBuilder) RemoveHeader(pattern string) *RouteBuilder {
	return r.Node(types.KindRemoveHeader, Options{"pattern": pattern})
}

// RemoveProperty removes the properties matching pattern
func (r *RouteBuilder) RemoveProperty(pattern string) *RouteBuilder {
	return r.Node(types.KindRemoveProperty, Options{"pattern": pattern})
}

// Process runs the processor bound as ref
func (r *RouteBuilder) Process(ref string) *RouteBuilder {
	return r.Node(types.KindProcess, Options{"ref": ref})
}

func (r *RouteBuilder) Stop() *RouteBuilder {
	return r.Node(types.KindStop, nil)
}

// ThrowException fails the exchange with an error of typeName
func (r *RouteBuilder) ThrowException(typeName string, message string) *RouteBuilder {
	return r.Node(types.KindThrowException, Options{"exceptionType": typeName, "message": message})
}

func (r *RouteBuilder) Rollback(message string) *RouteBuilder {
	return r.Node(types.KindRollback, Options{"message": message})
}

// Delay delays by the expression result in milliseconds
func (r *RouteBuilder) Delay(expression interface{}) *RouteBuilder {
	return r.Node(types.KindDelay, Options{"expression": expression})
}

// Sampling lets one exchange through per period in milliseconds
func (r *RouteBuilder) Sampling(periodMillis int64) *RouteBuilder {
	return r.Node(types.KindSampling, Options{"samplePeriod": periodMillis})
}

func (r *RouteBuilder) Filter(predicate interface{}) *RouteBuilder {
	return r.Block(types.KindFilter, Options{"expression": predicate})
}

func (r *RouteBuilder) Choice() *RouteBuilder {
	return r.Block(types.KindChoice, nil)
}

func (r *RouteBuilder) When(predicate interface{}) *RouteBuilder {
	return r.branch(types.KindChoice, types.KindWhen, Options{"expression": predicate})
}

func (r *RouteBuilder) Otherwise() *RouteBuilder {
	return r.branch(types.KindChoice, types.KindOtherwise, nil)
}

func (r *RouteBuilder) DoTry() *RouteBuilder {
	return r.Block(types.KindTry, nil)
}

// DoCatch catches the errors registered under the type names
func (r *RouteBuilder) DoCatch(exceptions ...string) *RouteBuilder {
	return r.branch(types.KindTry, types.KindCatch, Options{"exceptions": exceptions})
}

func (r *RouteBuilder) DoFinally() *RouteBuilder {
	return r.branch(types.KindTry, types.KindFinally, nil)
}

func (r *RouteBuilder) CircuitBreaker(options Options) *RouteBuilder {
	return r.Block(types.KindCircuitBreaker, options)
}

func (r *RouteBuilder) OnFallback() *RouteBuilder {
	return r.branch(types.KindCircuitBreaker, types.KindOnFallback, nil)
}

// Loop runs the block the number of times the expression evaluates to
func (r *RouteBuilder) Loop(expression interface{}) *RouteBuilder {
	return r.Block(types.KindLoop, Options{"expression": expression})
}

// LoopDoWhile runs the block while predicate matches
func (r *RouteBuilder) LoopDoWhile(predicate interface{}) *RouteBuilder {
	return r.Block(types.KindLoop, Options{"doWhile": predicate})
}

func (r *RouteBuilder) Multicast(options Options) *RouteBuilder {
	return r.Block(types.KindMulticast, options)
}

func (r *RouteBuilder) Split(expression interface{}, options Options) *RouteBuilder {
	return r.Block(types.KindSplit, with(options, "expression", expression))
}

// Aggregate aggregates exchanges by correlation with the strategy bound or named strategyRef
func (r *RouteBuilder) Aggregate(correlation interface{}, strategyRef string, options Options) *RouteBuilder {
	return r.Block(types.KindAggregate, with(options, "correlationExpression", correlation, "strategyRef", strategyRef))
}

func (r *RouteBuilder) Resequence(expression interface{}, options Options) *RouteBuilder {
	return r.Block(types.KindResequence, with(options, "expression", expression))
}

func (r *RouteBuilder) Throttle(maximumRequestsPerPeriod interface{}, options Options) *RouteBuilder {
	return r.Block(types.KindThrottle, with(options, "maximumRequestsPerPeriod", maximumRequestsPerPeriod))
}

func (r *RouteBuilder) Threads(options Options) *RouteBuilder {
	return r.Block(types.KindThreads, options)
}

func (r *RouteBuilder) IdempotentConsumer(messageId interface{}, options Options) *RouteBuilder {
	return r.Block(types.KindIdempotentConsumer, with(options, "expression", messageId))
}

func (r *RouteBuilder) Saga(options Options) *RouteBuilder {
	return r.Block(types.KindSaga, options)
}

// Policy wraps the block with the Policy bound as ref
func (r *RouteBuilder) Policy(ref string) *RouteBuilder {
	return r.Block(types.KindPolicy, Options{"ref": ref})
}

// Transacted wraps the block with a TransactedPolicy, ref may be empty
func (r *RouteBuilder) Transacted(ref string) *RouteBuilder {
	options := Options{}
	if ref != "" {
		options["ref"] = ref
	}
	return r.Block(types.KindTransacted, options)
}

func (r *RouteBuilder) Pipeline() *RouteBuilder {
	return r.Block(types.KindPipeline, nil)
}

// OnException handles the errors registered under the type names, route level only
func (r *RouteBuilder) OnException(exceptions ...string) *RouteBuilder {
	return r.Block(types.KindOnException, Options{"exceptions": exceptions})
}

// OnCompletion runs the block once the exchange completes, route level only
func (r *RouteBuilder) OnCompletion(options Options) *RouteBuilder {
	return r.Block(types.KindOnCompletion, options)
}

// Intercept runs the block before every following node, route level only
func (r *RouteBuilder) Intercept() *RouteBuilder {
	return r.Block(types.KindIntercept, nil)
}

// InterceptFrom runs the block when an exchange enters the route from an
// endpoint matching uri, route level only
func (r *RouteBuilder) InterceptFrom(uri string) *RouteBuilder {
	return r.Block(types.KindInterceptFrom, with(nil, "uri", uri))
}

// InterceptSendToEndpoint runs the block before every send to an endpoint
// matching uri, route level only
func (r *RouteBuilder) InterceptSendToEndpoint(uri string, options Options) *RouteBuilder {
	return r.Block(types.KindInterceptSendToEndpoint, with(options, "uri", uri))
}

// LoadBalance sends each exchange to one of the outputs of the block
func (r *RouteBuilder) LoadBalance(strategy string, options Options) *RouteBuilder {
	return r.Block(types.KindLoadBalance, with(options, "strategy", strategy))
}

// DynamicRouter routes to the endpoints returned by expression until it returns none
func (r *RouteBuilder) DynamicRouter(expression interface{}) *RouteBuilder {
	return r.Node(types.KindDynamicRouter, Options{"expression": expression})
}

// Enrich merges the reply of uri into the exchange with the strategy named strategyRef
func (r *RouteBuilder) Enrich(uri string, strategyRef string) *RouteBuilder {
	options := Options{"uri": uri}
	if strategyRef != "" {
		options["strategyRef"] = strategyRef
	}
	return r.Node(types.KindEnrich, options)
}

// Validate fails exchanges not matching predicate
func (r *RouteBuilder) Validate(predicate interface{}) *RouteBuilder {
	return r.Node(types.KindValidate, Options{"expression": predicate})
}

// Sort sorts the list returned by expression into the body, nil sorts the body
func (r *RouteBuilder) Sort(expression interface{}, comparatorRef string) *RouteBuilder {
	options := Options{}
	if expression != nil {
		options["expression"] = expression
	}
	if comparatorRef != "" {
		options["comparatorRef"] = comparatorRef
	}
	return r.Node(types.KindSort, options)
}

func (r *RouteBuilder) Step() *RouteBuilder {
	return r.Block(types.KindStep, nil)
}
