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

package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builder"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/test"
)

type countingPolicy struct {
	before  int32
	wrapped int32
}

func (p *countingPolicy) BeforeWrap(types.RouteInfo, *types.NodeDefinition) {
	atomic.AddInt32(&p.before, 1)
}

func (p *countingPolicy) Wrap(_ types.RouteInfo, processor types.Processor) (types.Processor, error) {
	atomic.AddInt32(&p.wrapped, 1)
	return processor, nil
}

func (p *countingPolicy) Wrapped() int {
	return int(atomic.LoadInt32(&p.wrapped))
}

type transactionPolicy struct {
	countingPolicy
}

func (p *transactionPolicy) Propagation() string {
	return types.PropagationRequired
}

// compile compiles b on e and stops the route at the end of the test
func compile(t *testing.T, e *RouteEngine, b *builder.RouteBuilder) (*Route, error) {
	t.Helper()
	def, err := b.Build()
	require.NoError(t, err)
	route, err := e.compileRoute(def)
	if route != nil {
		t.Cleanup(func() {
			_ = route.Stop(context.Background())
		})
	}
	return route, err
}

func TestEveryKindReifies(t *testing.T) {
	e := New()
	e.Registry().Bind("upper", &test.UpperProcessor{})
	e.Registry().Bind("policy", &countingPolicy{})
	e.Registry().Bind("tx", &transactionPolicy{})

	tests := []struct {
		name  string
		route func(b *builder.RouteBuilder) *builder.RouteBuilder
	}{
		{"aggregate", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Aggregate(builder.Header("id"), "useLatest", builder.Options{"completionSize": 2}).To("mock:out").End()
		}},
		{"process", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Process("upper") }},
		{"try", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.DoTry().To("mock:body").DoCatch("IOError").To("mock:catch").DoFinally().To("mock:finally").End()
		}},
		{"choice", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Choice().When(builder.Expr("true")).To("mock:a").Otherwise().To("mock:b").End()
		}},
		{"circuitBreaker", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.CircuitBreaker(nil).To("mock:protected").OnFallback().To("mock:fallback").End()
		}},
		{"delay", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Delay(builder.Expr("10")) }},
		{"filter", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Filter(builder.Expr("true")).To("mock:filtered").End()
		}},
		{"idempotentConsumer", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.IdempotentConsumer(builder.Header("id"), nil).To("mock:once").End()
		}},
		{"intercept", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Intercept().To("mock:intercepted").End().To("mock:out")
		}},
		{"loop", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Loop(builder.Expr("2")).To("mock:loop").End()
		}},
		{"log", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Log("${body}") }},
		{"multicast", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Multicast(nil).To("mock:m1").To("mock:m2").End()
		}},
		{"onCompletion", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.OnCompletion(nil).To("mock:done").End().To("mock:out")
		}},
		{"onException", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.OnException("IOError").To("mock:error").End().To("mock:out")
		}},
		{"pipeline", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Pipeline().To("mock:p1").To("mock:p2").End()
		}},
		{"policy", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Policy("policy").To("mock:policy").End()
		}},
		{"recipientList", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.RecipientList(builder.Header("to"), nil)
		}},
		{"remove", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.RemoveHeader("h*").RemoveProperty("p")
		}},
		{"resequence", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Resequence(builder.Header("seq"), nil).To("mock:ordered").End()
		}},
		{"rollback", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Rollback("rolled back") }},
		{"routingSlip", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.RoutingSlip(builder.Header("slip")) }},
		{"saga", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Saga(nil).To("mock:saga").End() }},
		{"sampling", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Sampling(1000) }},
		{"message", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.SetBody(builder.Constant("x")).SetHeader("h", builder.Constant("v")).
				SetProperty("p", builder.Constant("v")).Transform(builder.Simple("${body}!"))
		}},
		{"split", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Split(builder.Expr("body"), nil).To("mock:item").End()
		}},
		{"stop", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Stop() }},
		{"threads", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Threads(nil).To("mock:async").End() }},
		{"throttle", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Throttle(builder.Expr("2"), nil).To("mock:throttled").End()
		}},
		{"throwException", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.ThrowException("IOError", "boom") }},
		{"endpoints", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.To("mock:to").ToD("mock:${header.target}").WireTap("mock:tap")
		}},
		{"loadBalance", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.LoadBalance(processor.RoundRobinLoadBalancer, nil).To("mock:lb1").To("mock:lb2").End()
		}},
		{"dynamicRouter", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.DynamicRouter(builder.Header("next")) }},
		{"enrich", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Enrich("mock:resource", "") }},
		{"interceptFrom", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.InterceptFrom("direct:*").To("mock:from").End().To("mock:out")
		}},
		{"interceptSendToEndpoint", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.InterceptSendToEndpoint("mock:out*", nil).To("mock:seen").End().To("mock:out")
		}},
		{"validate", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Validate(builder.Expr("true")) }},
		{"sort", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Sort(nil, "") }},
		{"step", func(b *builder.RouteBuilder) *builder.RouteBuilder { return b.Step().To("mock:step").End() }},
		{"transacted", func(b *builder.RouteBuilder) *builder.RouteBuilder {
			return b.Transacted("").To("mock:tx").End()
		}},
	}
	covered := map[types.NodeKind]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := compile(t, e, tt.route(builder.NewRoute("direct:"+tt.name).RouteId(tt.name)))
			require.NoError(t, err)
			def := route.Definition()
			for i := range def.Nodes {
				covered[def.Nodes[i].Kind] = true
			}
			for _, id := range def.Outputs {
				node := def.Node(id)
				if isRouteScoped(node.Kind) {
					assert.Nil(t, route.Channel(node.Id), node.String())
				} else {
					assert.NotNil(t, route.Channel(node.Id), node.String())
				}
			}
			assert.NotNil(t, route.Processor())
		})
	}
	for _, kind := range types.NodeKinds() {
		assert.True(t, covered[kind], "kind %s is not covered", kind)
	}
}

func TestWrapProcessorReturnsChannel(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:wrap").RouteId("wrap").To("mock:wrap"))
	require.NoError(t, err)
	channel := route.Channel("to1")
	require.NotNil(t, channel)

	base, err := newProcessorReifier(route, channel.Node())
	require.NoError(t, err)
	wrapped, err := base.wrapProcessor(channel)
	require.NoError(t, err)
	assert.Same(t, channel, wrapped)
}

func TestTryChannelsHaveNoErrorHandler(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:try").RouteId("try").
		DoTry().Id("try").
		To("mock:body").Id("body").
		DoCatch("IOError").To("mock:catch").Id("catchTo").
		DoFinally().To("mock:finally").Id("finallyTo").
		End().
		To("mock:after").Id("after"))
	require.NoError(t, err)

	for _, id := range []string{"try", "body", "catchTo", "finallyTo"} {
		channel := route.Channel(id)
		require.NotNil(t, channel, id)
		assert.Nil(t, channel.ErrorHandler(), id)
	}
	after := route.Channel("after")
	require.NotNil(t, after)
	assert.NotNil(t, after.ErrorHandler())
}

func TestOnExceptionChannelsHaveNoErrorHandler(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:onException").RouteId("onException").
		OnException("IOError").To("mock:error").Id("handler").End().
		To("mock:out").Id("out"))
	require.NoError(t, err)
	handler := route.Channel("handler")
	require.NotNil(t, handler)
	assert.Nil(t, handler.ErrorHandler())
	assert.NotNil(t, route.Channel("out").ErrorHandler())
	require.Len(t, route.EventDrivenProcessors(), 1)
}

func TestCircuitBreakerChannelsErrorHandler(t *testing.T) {
	circuitBreaker := func(id string, inherit *bool) *builder.RouteBuilder {
		b := builder.NewRoute("direct:" + id).RouteId(id).CircuitBreaker(nil).Id("cb")
		if inherit != nil {
			b = b.InheritErrorHandler(*inherit)
		}
		return b.To("mock:protected").Id("protected").
			OnFallback().To("mock:fallback").Id("fallback").
			End().
			To("mock:after").Id("after")
	}
	yes, no := true, false
	tests := []struct {
		name    string
		inherit *bool
		guarded bool
	}{
		{"Default", nil, false},
		{"Inherit", &yes, true},
		{"NoInherit", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := compile(t, New(), circuitBreaker("cb"+tt.name, tt.inherit))
			require.NoError(t, err)
			cb := route.Channel("cb")
			require.NotNil(t, cb)
			assert.Equal(t, tt.guarded, cb.ErrorHandler() != nil)
			for _, id := range []string{"protected", "fallback"} {
				channel := route.Channel(id)
				require.NotNil(t, channel, id)
				assert.Nil(t, channel.ErrorHandler(), id)
			}
			assert.NotNil(t, route.Channel("after").ErrorHandler())
		})
	}
}

func TestMulticastChannelsErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		options builder.Options
		guarded bool
	}{
		{"Default", nil, false},
		{"ShareUnitOfWork", builder.Options{"shareUnitOfWork": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := compile(t, New(), builder.NewRoute("direct:mc"+tt.name).RouteId("mc"+tt.name).
				Multicast(tt.options).Id("mc").
				To("mock:m1").Id("m1").
				To("mock:m2").Id("m2").
				End().
				To("mock:after").Id("after"))
			require.NoError(t, err)
			mc := route.Channel("mc")
			require.NotNil(t, mc)
			assert.Equal(t, tt.guarded, mc.ErrorHandler() != nil)
			for _, id := range []string{"m1", "m2"} {
				branch := route.Channel(id)
				require.NotNil(t, branch, id)
				assert.Nil(t, branch.ErrorHandler(), id)
			}
			assert.NotNil(t, route.Channel("after").ErrorHandler())
		})
	}
}

func TestNoErrorHandler(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:none").RouteId("none").NoErrorHandler().To("mock:none"))
	require.NoError(t, err)
	assert.Equal(t, types.NoErrorHandler, route.ErrorHandlerType())
}

func TestInheritErrorHandlerFalse(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:inherit").RouteId("inherit").
		To("mock:plain").Id("plain").InheritErrorHandler(false))
	require.NoError(t, err)
	assert.Nil(t, route.Channel("plain").ErrorHandler())
}

func TestDisabledNode(t *testing.T) {
	e := New()
	route, err := compile(t, e, builder.NewRoute("direct:disabled").RouteId("disabled").
		Log("skipped").Id("skipped").Disabled().
		To("mock:kept"))
	require.NoError(t, err)
	assert.Nil(t, route.Channel("skipped"))
	assert.Len(t, route.EventDrivenProcessors(), 1)
}

func TestReifierValidation(t *testing.T) {
	tests := []struct {
		name  string
		route *builder.RouteBuilder
	}{
		{"aggregateBatchAndDiscard", builder.NewRoute("direct:a").RouteId("a").
			Aggregate(builder.Header("id"), "useLatest", builder.Options{
				"completionFromBatchConsumer": true,
				"discardOnAggregationFailure": true,
			}).To("mock:a").End()},
		{"aggregateWithoutCompletion", builder.NewRoute("direct:b").RouteId("b").
			Aggregate(builder.Header("id"), "useLatest", nil).To("mock:b").End()},
		{"multicastTimeoutWithoutParallel", builder.NewRoute("direct:c").RouteId("c").
			Multicast(builder.Options{"timeout": 1000}).To("mock:c").End()},
		{"splitTimeoutWithoutParallel", builder.NewRoute("direct:d").RouteId("d").
			Split(builder.Expr("body"), builder.Options{"timeout": 1000}).To("mock:d").End()},
		{"processWithoutRef", builder.NewRoute("direct:e").RouteId("e").Process("")},
		{"onExceptionNested", builder.NewRoute("direct:f").RouteId("f").
			Filter(builder.Expr("true")).OnException("IOError").To("mock:f").End().End()},
		{"unknownShutdownRoute", builder.NewRoute("direct:g").RouteId("g").ShutdownRoute("Later").To("mock:g")},
		{"noOutputs", builder.NewRoute("direct:h").RouteId("h")},
		{"unknownLoadBalancer", builder.NewRoute("direct:i").RouteId("i").
			LoadBalance("nearest", nil).To("mock:i").End()},
		{"weightsMismatch", builder.NewRoute("direct:j").RouteId("j").
			LoadBalance(processor.WeightedLoadBalancer, builder.Options{"distributionRatio": "1,2,3"}).To("mock:j").To("mock:jj").End()},
		{"interceptSendWithoutUri", builder.NewRoute("direct:k").RouteId("k").
			InterceptSendToEndpoint("", nil).To("mock:k").End().To("mock:kk")},
		{"interceptFromNested", builder.NewRoute("direct:l").RouteId("l").
			Pipeline().InterceptFrom("direct:*").To("mock:l").End().End()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, New(), tt.route)
			require.Error(t, err)
			assert.True(t, types.IsIllegalArgument(err), err.Error())
			assert.True(t, types.IsRouteCreation(err))
		})
	}
}

func TestCustomReifier(t *testing.T) {
	reifiers := NewReifierRegistry()
	const upper types.NodeKind = "upper"
	require.NoError(t, reifiers.Register(upper, func(base *ProcessorReifier) Reifier {
		return ReifierFunc(func() (types.Processor, error) {
			return &test.UpperProcessor{}, nil
		})
	}))
	assert.True(t, reifiers.IsRegistered(upper))
	assert.True(t, reifiers.IsRegistered(types.KindTo))
	assert.False(t, reifiers.IsRegistered("unknown"))
	assert.Equal(t, []types.NodeKind{upper}, reifiers.CustomKinds())

	e := NewRouteEngine(types.NewConfig(), reifiers)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())
	_, err := e.AddRoute(context.Background(), mustBuild(t, builder.NewRoute("direct:custom").RouteId("custom").
		Node(upper, nil)))
	require.NoError(t, err)
	exchange := test.NewExchange("abc", nil)
	require.NoError(t, e.Send(context.Background(), "direct:custom", exchange))
	assert.Equal(t, "ABC", exchange.Body())

	require.NoError(t, reifiers.Unregister(upper))
	assert.True(t, types.IsLookup(reifiers.Unregister(upper)))
	_, err = e.AddRoute(context.Background(), mustBuild(t, builder.NewRoute("direct:custom2").RouteId("custom2").
		Node(upper, nil)))
	assert.True(t, types.IsIllegalState(err))

	assert.Error(t, reifiers.Register("", nil))
	assert.Error(t, reifiers.Register(upper, nil))
}

func TestOverrideCoreReifier(t *testing.T) {
	reifiers := NewReifierRegistry()
	var created int32
	require.NoError(t, reifiers.Register(types.KindLog, func(base *ProcessorReifier) Reifier {
		return ReifierFunc(func() (types.Processor, error) {
			atomic.AddInt32(&created, 1)
			return types.ProcessorFunc(func(exchange *types.Exchange) error { return nil }), nil
		})
	}))
	e := NewRouteEngine(types.NewConfig(), reifiers)
	_, err := compile(t, e, builder.NewRoute("direct:log").RouteId("log").Log("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))

	reifiers.Clear()
	assert.Empty(t, reifiers.CustomKinds())
	_, err = compile(t, e, builder.NewRoute("direct:log2").RouteId("log2").Log("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestTransactedPolicyResolution(t *testing.T) {
	transacted := func(ref string) *builder.RouteBuilder {
		return builder.NewRoute("direct:tx").RouteId("tx").Transacted(ref).To("mock:tx").End()
	}
	t.Run("ByRef", func(t *testing.T) {
		e := New()
		a, b := &transactionPolicy{}, &transactionPolicy{}
		e.Registry().Bind("a", a)
		e.Registry().Bind("b", b)
		_, err := compile(t, e, transacted("b"))
		require.NoError(t, err)
		assert.Equal(t, 0, a.Wrapped())
		assert.Equal(t, 1, b.Wrapped())
	})
	t.Run("SingleBean", func(t *testing.T) {
		e := New()
		only := &transactionPolicy{}
		e.Registry().Bind("only", only)
		e.Registry().Bind("plain", &countingPolicy{})
		_, err := compile(t, e, transacted(""))
		require.NoError(t, err)
		assert.Equal(t, 1, only.Wrapped())
	})
	t.Run("PropagationRequired", func(t *testing.T) {
		e := New()
		other, required := &transactionPolicy{}, &transactionPolicy{}
		e.Registry().Bind("other", other)
		e.Registry().Bind(types.PropagationRequired, required)
		_, err := compile(t, e, transacted(""))
		require.NoError(t, err)
		assert.Equal(t, 0, other.Wrapped())
		assert.Equal(t, 1, required.Wrapped())
	})
	t.Run("Ambiguous", func(t *testing.T) {
		e := New()
		e.Registry().Bind("a", &transactionPolicy{})
		e.Registry().Bind("b", &transactionPolicy{})
		_, err := compile(t, e, transacted(""))
		assert.True(t, types.IsIllegalArgument(err))
	})
	t.Run("WrongType", func(t *testing.T) {
		e := New()
		e.Registry().Bind("plain", &countingPolicy{})
		_, err := compile(t, e, transacted("plain"))
		assert.True(t, types.IsLookup(err))
	})
}

type nilPolicy struct{}

func (nilPolicy) BeforeWrap(types.RouteInfo, *types.NodeDefinition) {}

func (nilPolicy) Wrap(types.RouteInfo, types.Processor) (types.Processor, error) {
	return nil, nil
}

func TestPolicyNodeHasOwnChannel(t *testing.T) {
	tests := []struct {
		name   string
		policy types.Policy
		route  *builder.RouteBuilder
	}{
		{"Unchanged", &countingPolicy{}, builder.NewRoute("direct:p1").RouteId("p1").Policy("policy").To("mock:p1").End()},
		{"Nil", nilPolicy{}, builder.NewRoute("direct:p2").RouteId("p2").Policy("policy").To("mock:p2").End()},
		{"Transacted", &transactionPolicy{}, builder.NewRoute("direct:p3").RouteId("p3").Transacted("policy").To("mock:p3").End()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			e.Registry().Bind("policy", tt.policy)
			route, err := compile(t, e, tt.route)
			require.NoError(t, err)
			def := route.Definition()
			node := def.Node(def.Outputs[0])
			channel := route.Channel(node.Id)
			require.NotNil(t, channel, node.String())
			wrap, ok := channel.NextProcessor().(*processor.WrapProcessor)
			require.True(t, ok)
			_, isChannel := wrap.Wrapped().(types.Channel)
			assert.True(t, isChannel)
			assert.NotNil(t, channel.ErrorHandler())
		})
	}
}

func mustBuild(t *testing.T, b *builder.RouteBuilder) *types.RouteDefinition {
	t.Helper()
	def, err := b.Build()
	require.NoError(t, err)
	return def
}
