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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builder"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/test"
)

func TestLoadBalanceRoundRobin(t *testing.T) {
	e := startEngine(t)
	a := mockEndpoint(t, e, "lbA")
	b := mockEndpoint(t, e, "lbB")
	a.ExpectedBodiesReceived("1", "3")
	b.ExpectedBodiesReceived("2", "4")

	addRoute(t, e, builder.NewRoute("direct:lb").RouteId("lb").
		LoadBalance(processor.RoundRobinLoadBalancer, nil).To("mock:lbA").To("mock:lbB").End())

	test.SendMsgs(t, e, "direct:lb", test.Bodies("1", "2", "3", "4"), true)
	assert.NoError(t, a.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, b.AssertIsSatisfied(test.DefaultTimeout))
}

func TestLoadBalanceFailover(t *testing.T) {
	e := startEngine(t)
	down := mockEndpoint(t, e, "down")
	down.WhenAnyExchangeReceived(test.Fail(&types.ThrownError{TypeName: "IOError", Msg: "down"}))
	up := mockEndpoint(t, e, "up")
	up.ExpectedBodiesReceived("a")

	addRoute(t, e, builder.NewRoute("direct:failover").RouteId("failover").
		LoadBalance(processor.FailoverLoadBalancer, builder.Options{"exceptions": []string{"IOError"}}).
		To("mock:down").To("mock:up").
		End())

	require.NoError(t, e.Send(context.Background(), "direct:failover", test.NewExchange("a", nil)))
	assert.Equal(t, 1, down.ReceivedCount())
	assert.NoError(t, up.AssertIsSatisfied(test.DefaultTimeout))

	t.Run("NotMatching", func(t *testing.T) {
		stillDown := mockEndpoint(t, e, "stillDown")
		stillDown.WhenAnyExchangeReceived(test.Fail(&types.ThrownError{TypeName: "IOError", Msg: "down"}))
		spare := mockEndpoint(t, e, "spare")

		addRoute(t, e, builder.NewRoute("direct:noFailover").RouteId("noFailover").
			LoadBalance(processor.FailoverLoadBalancer, builder.Options{"exceptions": []string{"IllegalStateError"}}).
			To("mock:stillDown").To("mock:spare").
			End())

		err := e.Send(context.Background(), "direct:noFailover", test.NewExchange("a", nil))
		require.Error(t, err)
		assert.Equal(t, 1, stillDown.ReceivedCount())
		assert.Equal(t, 0, spare.ReceivedCount())
	})
}

func TestDynamicRouter(t *testing.T) {
	e := startEngine(t)
	first := mockEndpoint(t, e, "dr1")
	second := mockEndpoint(t, e, "dr2")
	first.ExpectedBodiesReceived("a")
	second.ExpectedBodiesReceived("a")

	addRoute(t, e, builder.NewRoute("direct:dynamic").RouteId("dynamic").
		DynamicRouter(builder.Expr(`property.SlipEndpoint == nil ? "mock:dr1" : (property.SlipEndpoint == "mock:dr1" ? "mock:dr2" : nil)`)).
		To("mock:drDone"))

	exchange := test.NewExchange("a", nil)
	require.NoError(t, e.Send(context.Background(), "direct:dynamic", exchange))
	assert.NoError(t, first.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, second.AssertIsSatisfied(test.DefaultTimeout))
	assert.Equal(t, 1, mockEndpoint(t, e, "drDone").ReceivedCount())
}

func TestEnrich(t *testing.T) {
	e := startEngine(t)
	resource := mockEndpoint(t, e, "resource")
	resource.WhenAnyExchangeReceived(types.ProcessorFunc(func(exchange *types.Exchange) error {
		exchange.SetBody("resource")
		return nil
	}))
	e.Registry().Bind("merge", func(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
		oldExchange.SetBody(oldExchange.Body().(string) + "+" + newExchange.Body().(string))
		return oldExchange, nil
	})
	merged := mockEndpoint(t, e, "merged")
	merged.ExpectedBodiesReceived("order+resource")
	replaced := mockEndpoint(t, e, "replaced")
	replaced.ExpectedBodiesReceived("resource")

	addRoute(t, e, builder.NewRoute("direct:enrich").RouteId("enrich").
		Enrich("mock:resource", "merge").To("mock:merged"))
	addRoute(t, e, builder.NewRoute("direct:replace").RouteId("replace").
		Enrich("mock:resource", "").To("mock:replaced"))

	test.SendMsgs(t, e, "direct:enrich", test.Bodies("order"), true)
	test.SendMsgs(t, e, "direct:replace", test.Bodies("order"), true)
	assert.NoError(t, merged.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, replaced.AssertIsSatisfied(test.DefaultTimeout))
	assert.Equal(t, []interface{}{"order", "order"}, resource.ReceivedBodies())

	t.Run("ResourceFails", func(t *testing.T) {
		broken := mockEndpoint(t, e, "brokenResource")
		broken.WhenAnyExchangeReceived(test.Fail(errors.New("unavailable")))
		addRoute(t, e, builder.NewRoute("direct:enrichBroken").RouteId("enrichBroken").
			Enrich("mock:brokenResource", "").To("mock:neverEnriched"))

		err := e.Send(context.Background(), "direct:enrichBroken", test.NewExchange("order", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
		assert.Equal(t, 0, mockEndpoint(t, e, "neverEnriched").ReceivedCount())
	})
}

func TestValidate(t *testing.T) {
	e := startEngine(t)
	valid := mockEndpoint(t, e, "valid")
	valid.ExpectedMessageCount(1)

	addRoute(t, e, builder.NewRoute("direct:validate").RouteId("validate").
		Validate(builder.Expr("header.size > 10")).
		To("mock:valid"))

	require.NoError(t, e.Send(context.Background(), "direct:validate", test.NewExchange("big", map[string]interface{}{"size": 20})))
	err := e.Send(context.Background(), "direct:validate", test.NewExchange("small", map[string]interface{}{"size": 5}))
	require.Error(t, err)
	var invalid *types.PredicateValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "header.size > 10", invalid.Predicate)
	assert.NoError(t, valid.AssertIsSatisfied(test.DefaultTimeout))
}

func TestSort(t *testing.T) {
	e := startEngine(t)
	e.Registry().Bind("reverse", func(a, b interface{}) int {
		return strings.Compare(b.(string), a.(string))
	})
	addRoute(t, e, builder.NewRoute("direct:sort").RouteId("sort").Sort(nil, ""))
	addRoute(t, e, builder.NewRoute("direct:sortReverse").RouteId("sortReverse").Sort(nil, "reverse"))

	exchange, err := e.Request(context.Background(), "direct:sort", []interface{}{3, 1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, exchange.Body())

	exchange, err = e.Request(context.Background(), "direct:sortReverse", "b,c,a", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"c", "b", "a"}, exchange.Body())
}

func TestStep(t *testing.T) {
	e := startEngine(t)
	var mu sync.Mutex
	var steps []interface{}
	e.Registry().Bind("recordStep", func(exchange *types.Exchange) error {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, exchange.Property(types.PropertyStepId))
		return nil
	})

	route := addRoute(t, e, builder.NewRoute("direct:step").RouteId("step").
		Step().Id("prepare").Process("recordStep").End().
		Process("recordStep"))

	assert.NotNil(t, route.Channel("prepare"))
	require.NoError(t, e.Send(context.Background(), "direct:step", test.NewExchange("a", nil)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []interface{}{"prepare", nil}, steps)
}

func TestInterceptFrom(t *testing.T) {
	e := startEngine(t)
	intercepted := mockEndpoint(t, e, "fromIntercepted")
	intercepted.ExpectedBodiesReceived("a")
	intercepted.ExpectedHeaderReceived("step", "intercepted")
	out := mockEndpoint(t, e, "fromOut")
	out.ExpectedHeaderReceived("step", "intercepted")

	addRoute(t, e, builder.NewRoute("direct:from").RouteId("from").
		InterceptFrom("direct:*").SetHeader("step", builder.Constant("intercepted")).To("mock:fromIntercepted").End().
		To("mock:fromOut"))
	addRoute(t, e, builder.NewRoute("direct:notFrom").RouteId("notFrom").
		InterceptFrom("seda:*").To("mock:notIntercepted").End().
		To("mock:notFromOut"))

	require.NoError(t, e.Send(context.Background(), "direct:from", test.NewExchange("a", nil)))
	require.NoError(t, e.Send(context.Background(), "direct:notFrom", test.NewExchange("b", nil)))
	assert.NoError(t, intercepted.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, out.AssertIsSatisfied(test.DefaultTimeout))
	assert.Equal(t, 0, mockEndpoint(t, e, "notIntercepted").ReceivedCount())
	assert.Equal(t, 1, mockEndpoint(t, e, "notFromOut").ReceivedCount())
}

func TestInterceptSendToEndpoint(t *testing.T) {
	e := startEngine(t)
	guarded := mockEndpoint(t, e, "guarded")
	after := mockEndpoint(t, e, "afterGuarded")
	after.ExpectedBodiesReceived("intercepted")
	open := mockEndpoint(t, e, "open")
	open.ExpectedBodiesReceived("intercepted")

	addRoute(t, e, builder.NewRoute("direct:sendIntercepted").RouteId("sendIntercepted").
		InterceptSendToEndpoint("mock:guard*", builder.Options{"skipSendToOriginalEndpoint": true, "afterUri": "mock:afterGuarded"}).
		SetBody(builder.Constant("intercepted")).
		End().
		To("mock:guarded").
		To("mock:open"))

	require.NoError(t, e.Send(context.Background(), "direct:sendIntercepted", test.NewExchange("a", nil)))
	assert.Equal(t, 0, guarded.ReceivedCount())
	assert.NoError(t, after.AssertIsSatisfied(test.DefaultTimeout))
	assert.NoError(t, open.AssertIsSatisfied(test.DefaultTimeout))
	assert.Equal(t, "mock:guarded", after.ReceivedExchanges()[0].Property(types.PropertyInterceptedEndpoint))

	t.Run("DynamicUri", func(t *testing.T) {
		seen := mockEndpoint(t, e, "seenDynamic")
		seen.ExpectedMessageCount(1)
		target := mockEndpoint(t, e, "dynamicTarget")
		target.ExpectedMessageCount(1)

		addRoute(t, e, builder.NewRoute("direct:sendDynamic").RouteId("sendDynamic").
			InterceptSendToEndpoint("mock:dynamic.*", nil).To("mock:seenDynamic").End().
			ToD("mock:${header.target}"))

		require.NoError(t, e.Send(context.Background(), "direct:sendDynamic",
			test.NewExchange("a", map[string]interface{}{"target": "dynamicTarget"})))
		assert.NoError(t, seen.AssertIsSatisfied(test.DefaultTimeout))
		assert.NoError(t, target.AssertIsSatisfied(test.DefaultTimeout))
	})
}

func TestMatchEndpoint(t *testing.T) {
	tests := []struct {
		uri     string
		pattern string
		matches bool
	}{
		{"mock:a", "", true},
		{"mock:a", "*", true},
		{"mock:a", "mock:a", true},
		{"mock:abc", "mock:a*", true},
		{"direct:a", "mock:*", false},
		{"mock:order-1", "mock:order-[0-9]+", true},
		{"mock:order-x", "mock:order-[0-9]+", false},
	}
	for _, tt := range tests {
		ok, err := matchEndpoint(tt.uri, tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.matches, ok, "%s %s", tt.uri, tt.pattern)
	}
	_, err := matchEndpoint("mock:a", "mock:(")
	assert.Error(t, err)
}
