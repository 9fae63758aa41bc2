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
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails the first n calls
type flaky struct {
	n     int32
	calls int32
	err   error
}

func (f *flaky) Process(ex *types.Exchange) error {
	if atomic.AddInt32(&f.calls, 1) <= f.n {
		ex.SetErr(f.err)
		return f.err
	}
	ex.SetBody("ok")
	return nil
}

func always(v bool) types.Predicate {
	return types.PredicateFunc(func(*types.Exchange) (bool, error) { return v, nil })
}

func quickPolicy(max int) *RedeliveryPolicy {
	p := DefaultRedeliveryPolicy()
	p.MaximumRedeliveries = max
	p.RedeliveryDelay = time.Millisecond
	p.LogExhausted = false
	return p
}

func TestRedeliveryPolicyDelay(t *testing.T) {
	p := DefaultRedeliveryPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(3))

	p.UseExponentialBackOff = true
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 60*time.Second, p.Delay(10))

	p.UseCollisionAvoidance = true
	d := p.Delay(2)
	assert.True(t, d >= 1700*time.Millisecond && d <= 2300*time.Millisecond, "delay %s", d)

	assert.False(t, DefaultRedeliveryPolicy().ShouldRedeliver(1))
	assert.True(t, quickPolicy(-1).ShouldRedeliver(1000))

	logExhausted := false
	def := &types.RedeliveryPolicyDefinition{MaximumRedeliveries: 3, RedeliveryDelay: 10, LogExhausted: &logExhausted}
	np := NewRedeliveryPolicy(def, nil)
	assert.Equal(t, 3, np.MaximumRedeliveries)
	assert.Equal(t, 10*time.Millisecond, np.RedeliveryDelay)
	assert.False(t, np.LogExhausted)
	assert.Equal(t, 60*time.Second, np.MaximumRedeliveryDelay)
}

func TestDefaultErrorHandler(t *testing.T) {
	boom := errors.New("boom")

	t.Run("RecoversAfterRedelivery", func(t *testing.T) {
		out := &flaky{n: 2, err: boom}
		h := NewDefaultErrorHandler(out, quickPolicy(3), nil, types.DiscardLogger())
		ex := types.NewExchange(context.Background(), "in")
		require.Nil(t, h.Process(ex))
		assert.Equal(t, int32(3), out.calls)
		assert.Equal(t, true, ex.Header(types.HeaderRedelivered))
		assert.Equal(t, 2, ex.Header(types.HeaderRedeliveryCounter))
		assert.Equal(t, "ok", ex.Body())
	})

	t.Run("Exhausted", func(t *testing.T) {
		out := &flaky{n: 10, err: boom}
		h := NewDefaultErrorHandler(out, quickPolicy(2), nil, types.DiscardLogger())
		ex := types.NewExchange(context.Background(), "in")
		assert.Equal(t, boom, h.Process(ex))
		assert.Equal(t, int32(3), out.calls)
		assert.Equal(t, true, ex.Property(types.PropertyRedeliveryExhausted))
	})

	t.Run("RollbackIsNotRedelivered", func(t *testing.T) {
		calls := 0
		out := types.ProcessorFunc(func(ex *types.Exchange) error {
			calls++
			ex.SetRollbackOnly(true)
			return boom
		})
		h := NewDefaultErrorHandler(out, quickPolicy(5), nil, types.DiscardLogger())
		assert.Equal(t, boom, h.Process(types.NewExchange(context.Background(), "in")))
		assert.Equal(t, 1, calls)
	})
}

func TestDeadLetterChannel(t *testing.T) {
	boom := errors.New("boom")
	var dead []interface{}
	deadLetter := types.ProcessorFunc(func(ex *types.Exchange) error {
		dead = append(dead, ex.Body())
		return nil
	})
	out := types.ProcessorFunc(func(ex *types.Exchange) error {
		ex.SetBody("changed")
		return boom
	})
	h := NewDeadLetterChannel(out, quickPolicy(1), nil, deadLetter, "mock:dead", true, types.DiscardLogger())
	assert.True(t, h.IsDeadLetterChannel())

	ex := types.NewExchange(context.Background(), "original")
	ex.SetProperty(types.PropertyOriginalMessage, types.NewMessage("original"))
	assert.Nil(t, h.Process(ex))
	assert.Equal(t, []interface{}{"original"}, dead)
	assert.Equal(t, boom, ex.Property(types.PropertyExceptionCaught))
	assert.Equal(t, true, ex.Property(types.PropertyErrorHandlerHandled))
	assert.True(t, ex.IsRouteStop())
}

func TestExceptionPolicies(t *testing.T) {
	registry := types.NewErrorTypeRegistry()
	resolver := NewExceptionPolicyResolver(registry)
	catchAll := &ExceptionPolicy{Id: "all", ErrorTypes: []string{CatchAllErrorType}, Handled: always(true)}
	illegal := &ExceptionPolicy{Id: "illegal", ErrorTypes: []string{"IllegalArgumentError"}, Continued: always(true), Redelivery: quickPolicy(2)}
	thrown := &ExceptionPolicy{Id: "thrown", ErrorTypes: []string{"MyError"}, OnWhen: types.PredicateFunc(func(ex *types.Exchange) (bool, error) {
		return ex.Header("match") == true, nil
	})}
	resolver.Add(catchAll)
	resolver.Add(illegal)
	resolver.Add(thrown)

	ex := types.NewExchange(context.Background(), nil)
	assert.Same(t, illegal, resolver.Resolve(ex, types.NewIllegalArgumentError("x")))
	assert.Same(t, illegal, resolver.Resolve(ex, types.NewExchangeError(ex, types.NewIllegalArgumentError("x"), "wrapped")))
	assert.Same(t, catchAll, resolver.Resolve(ex, errors.New("other")))
	assert.Same(t, catchAll, resolver.Resolve(ex, &types.ThrownError{TypeName: "MyError"}))
	ex.SetHeader("match", true)
	assert.Same(t, thrown, resolver.Resolve(ex, &types.ThrownError{TypeName: "MyError"}))

	t.Run("Continued", func(t *testing.T) {
		out := &flaky{n: 10, err: types.NewIllegalArgumentError("bad")}
		h := NewDefaultErrorHandler(out, quickPolicy(0), resolver, types.DiscardLogger())
		ex := types.NewExchange(context.Background(), "in")
		assert.Nil(t, h.Process(ex))
		assert.Equal(t, int32(3), out.calls, "policy redelivery overrides the handler")
		assert.False(t, ex.IsRouteStop())
	})

	t.Run("HandledWithProcessor", func(t *testing.T) {
		var seen error
		catchAll.Processor = types.ProcessorFunc(func(ex *types.Exchange) error {
			seen, _ = ex.Property(types.PropertyExceptionCaught).(error)
			ex.SetBody("handled")
			return nil
		})
		defer func() { catchAll.Processor = nil }()
		boom := errors.New("boom")
		h := NewDefaultErrorHandler(&flaky{n: 10, err: boom}, quickPolicy(0), resolver, types.DiscardLogger())
		ex := types.NewExchange(context.Background(), "in")
		assert.Nil(t, h.Process(ex))
		assert.Equal(t, boom, seen)
		assert.Equal(t, "handled", ex.Body())
		assert.True(t, ex.IsRouteStop())
	})

	t.Run("RetryWhile", func(t *testing.T) {
		r := NewExceptionPolicyResolver(registry)
		r.Add(&ExceptionPolicy{RetryWhile: types.PredicateFunc(func(ex *types.Exchange) (bool, error) {
			n, _ := ex.Header(types.HeaderRedeliveryCounter).(int)
			return n < 4, nil
		})})
		out := &flaky{n: 100, err: errors.New("boom")}
		h := NewDefaultErrorHandler(out, quickPolicy(0), r, types.DiscardLogger())
		assert.NotNil(t, h.Process(types.NewExchange(context.Background(), "in")))
		assert.Equal(t, int32(5), out.calls)
	})
}

func TestNoErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	h := NewNoErrorHandler(&flaky{n: 1, err: boom})
	assert.Equal(t, boom, h.Process(types.NewExchange(context.Background(), nil)))
}
