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

package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// call one message received by a step endpoint
type call struct {
	uri     string
	sagaId  string
	headers map[string]interface{}
}

// endpoints records the messages sent to mock: uris
type endpoints struct {
	mu       sync.Mutex
	calls    []call
	failures map[string]int
}

func (e *endpoints) ResolveEndpoint(uri string) (types.Endpoint, error) {
	if !strings.HasPrefix(uri, "mock:") {
		return nil, fmt.Errorf("no component for %s", uri)
	}
	return &endpoint{uri: uri, owner: e}, nil
}

func (e *endpoints) Calls() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

func (e *endpoints) Uris() []string {
	var uris []string
	for _, c := range e.Calls() {
		uris = append(uris, c.uri)
	}
	return uris
}

type endpoint struct {
	uri   string
	owner *endpoints
}

func (e *endpoint) Uri() string { return e.uri }

func (e *endpoint) CreateProducer() (types.Producer, error) { return &producer{endpoint: e}, nil }

func (e *endpoint) CreateConsumer(types.Processor) (types.Consumer, error) {
	return nil, errors.New("not supported")
}

type producer struct {
	endpoint *endpoint
}

func (p *producer) Process(ex *types.Exchange) error {
	o := p.endpoint.owner
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call{
		uri:     p.endpoint.uri,
		sagaId:  fmt.Sprint(ex.Header(types.HeaderSagaLongRunningAction)),
		headers: ex.Message().Headers,
	})
	if o.failures[p.endpoint.uri] > 0 {
		o.failures[p.endpoint.uri]--
		return errors.New("unavailable")
	}
	return nil
}

func (p *producer) Start(context.Context) error { return nil }
func (p *producer) Stop(context.Context) error  { return nil }
func (p *producer) Endpoint() types.Endpoint    { return p.endpoint }

func newService(t *testing.T) (*InMemorySagaService, *endpoints) {
	eps := &endpoints{failures: map[string]int{}}
	s := NewInMemorySagaService(eps, nil)
	s.RetryDelay = time.Millisecond
	require.Nil(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, eps
}

func newSaga(s Service, body types.Processor, propagation Propagation, name string) *SagaProcessor {
	x := NewSagaProcessor(s, body, propagation, CompletionAuto, nil)
	x.Compensation = "mock:" + name + "-compensate"
	x.Completion = "mock:" + name + "-complete"
	return x
}

var (
	boom    = errors.New("boom")
	ok      = types.ProcessorFunc(func(*types.Exchange) error { return nil })
	failing = types.ProcessorFunc(func(*types.Exchange) error { return boom })
)

func sagaIdOf(ex *types.Exchange) string {
	if v := ex.Header(types.HeaderSagaLongRunningAction); v != nil {
		return v.(string)
	}
	return ""
}

func TestSagaCompletes(t *testing.T) {
	s, eps := newService(t)
	var seen string
	x := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		seen = sagaIdOf(ex)
		return nil
	}), PropagationRequired, "order")

	ex := types.NewExchange(context.Background(), nil)
	require.Nil(t, x.Process(ex))
	assert.NotEqual(t, "", seen)
	assert.Len(t, seen, 26)
	assert.Equal(t, []string{"mock:order-complete"}, eps.Uris())
	assert.Equal(t, seen, eps.Calls()[0].sagaId)
	assert.Equal(t, 0, s.Size())
	assert.Nil(t, ex.Header(types.HeaderSagaLongRunningAction))
}

func TestSagaCompensates(t *testing.T) {
	s, eps := newService(t)
	x := newSaga(s, failing, PropagationRequired, "order")
	x.Options = map[string]types.Expression{
		"orderId": types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) { return ex.Body(), nil }),
	}
	ex := types.NewExchange(context.Background(), "o-1")
	assert.Equal(t, boom, x.Process(ex))
	calls := eps.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock:order-compensate", calls[0].uri)
	assert.Equal(t, "o-1", calls[0].headers["orderId"])
}

func TestSagaNestedStepsCompensateInReverse(t *testing.T) {
	s, eps := newService(t)
	payment := newSaga(s, ok, PropagationRequired, "payment")
	shipping := newSaga(s, ok, PropagationMandatory, "shipping")
	order := newSaga(s, processor.NewPipeline(payment, shipping, failing), PropagationRequired, "order")

	assert.Equal(t, boom, order.Process(types.NewExchange(context.Background(), nil)))
	assert.Equal(t, []string{"mock:shipping-compensate", "mock:payment-compensate", "mock:order-compensate"}, eps.Uris())
	ids := map[string]bool{}
	for _, c := range eps.Calls() {
		ids[c.sagaId] = true
	}
	assert.Len(t, ids, 1)
}

func TestSagaRequiresNew(t *testing.T) {
	s, eps := newService(t)
	var outerId, innerId, afterInner string
	inner := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		innerId = sagaIdOf(ex)
		return nil
	}), PropagationRequiresNew, "inner")
	outer := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		outerId = sagaIdOf(ex)
		_ = inner.Process(ex)
		afterInner = sagaIdOf(ex)
		return boom
	}), PropagationRequired, "outer")

	assert.Equal(t, boom, outer.Process(types.NewExchange(context.Background(), nil)))
	assert.NotEqual(t, outerId, innerId)
	assert.Equal(t, outerId, afterInner)
	assert.Equal(t, []string{"mock:inner-complete", "mock:outer-compensate"}, eps.Uris())
}

func TestSagaPropagationRules(t *testing.T) {
	s, _ := newService(t)

	mandatory := newSaga(s, ok, PropagationMandatory, "m")
	assert.True(t, types.IsIllegalState(mandatory.Process(types.NewExchange(context.Background(), nil))))

	never := newSaga(s, ok, PropagationNever, "n")
	assert.Nil(t, never.Process(types.NewExchange(context.Background(), nil)))
	outer := newSaga(s, never, PropagationRequired, "o")
	assert.True(t, types.IsIllegalState(outer.Process(types.NewExchange(context.Background(), nil))))

	var inside string
	notSupported := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		inside = sagaIdOf(ex)
		return nil
	}), PropagationNotSupported, "ns")
	var after string
	outer = newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		_ = notSupported.Process(ex)
		after = sagaIdOf(ex)
		return nil
	}), PropagationRequired, "o")
	require.Nil(t, outer.Process(types.NewExchange(context.Background(), nil)))
	assert.Equal(t, "", inside)
	assert.NotEqual(t, "", after)

	var supported string
	supports := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		supported = sagaIdOf(ex)
		return nil
	}), PropagationSupports, "s")
	require.Nil(t, supports.Process(types.NewExchange(context.Background(), nil)))
	assert.Equal(t, "", supported)
}

func TestSagaManualTimeout(t *testing.T) {
	s, eps := newService(t)
	var id string
	x := newSaga(s, types.ProcessorFunc(func(ex *types.Exchange) error {
		id = sagaIdOf(ex)
		return nil
	}), PropagationRequired, "manual")
	x.CompletionMode = CompletionManual
	x.Timeout = 50 * time.Millisecond

	require.Nil(t, x.Process(types.NewExchange(context.Background(), nil)))
	c, found := s.GetSaga(id)
	require.True(t, found)
	assert.Equal(t, StatusRunning, c.Status())
	assert.Eventually(t, func() bool { return c.Status() == StatusCompensated }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"mock:manual-compensate"}, eps.Uris())
	assert.True(t, types.IsIllegalState(c.Complete(context.Background())))
	assert.Nil(t, c.Compensate(context.Background()))
}

func TestSagaRetries(t *testing.T) {
	s, eps := newService(t)
	s.MaxRetryAttempts = 3
	eps.failures["mock:order-complete"] = 2
	x := newSaga(s, ok, PropagationRequired, "order")
	require.Nil(t, x.Process(types.NewExchange(context.Background(), nil)))
	assert.Len(t, eps.Calls(), 3)

	eps.failures["mock:order-complete"] = 3
	assert.NotNil(t, x.Process(types.NewExchange(context.Background(), nil)))
}

func TestParse(t *testing.T) {
	p, err := ParsePropagation("requires_new")
	require.Nil(t, err)
	assert.Equal(t, PropagationRequiresNew, p)
	p, _ = ParsePropagation("")
	assert.Equal(t, PropagationRequired, p)
	_, err = ParsePropagation("sometimes")
	assert.True(t, types.IsIllegalArgument(err))

	m, err := ParseCompletionMode("manual")
	require.Nil(t, err)
	assert.Equal(t, CompletionManual, m)
	_, err = ParseCompletionMode("later")
	assert.NotNil(t, err)
}
