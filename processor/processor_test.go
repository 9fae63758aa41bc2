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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cache"
	"github.com/rulego/routego/utils/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v interface{}) types.Expression {
	return types.ExpressionFunc(func(*types.Exchange) (interface{}, error) {
		return v, nil
	})
}

func headerEquals(name string, value interface{}) types.Predicate {
	return types.PredicateFunc(func(ex *types.Exchange) (bool, error) {
		return ex.Header(name) == value, nil
	})
}

// recorder collects bodies of the exchanges it sees
type recorder struct {
	mu     sync.Mutex
	bodies []interface{}
}

func (r *recorder) Process(ex *types.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, ex.Body())
	return nil
}

func (r *recorder) Bodies() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.bodies...)
}

func failing(err error) types.Processor {
	return types.ProcessorFunc(func(*types.Exchange) error { return err })
}

func appendBody(suffix string) types.Processor {
	return types.ProcessorFunc(func(ex *types.Exchange) error {
		ex.SetBody(ex.Body().(string) + suffix)
		return nil
	})
}

func TestPipeline(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	ex := types.NewExchange(context.Background(), "a")
	err := NewPipeline(appendBody("b"), rec, failing(boom), appendBody("c")).Process(ex)
	assert.Equal(t, boom, err)
	assert.Equal(t, "ab", ex.Body())
	assert.Equal(t, []interface{}{"ab"}, rec.Bodies())

	ex = types.NewExchange(context.Background(), "a")
	_ = NewPipeline(&StopProcessor{}, appendBody("b")).Process(ex)
	assert.Nil(t, ex.Err())
	assert.Equal(t, "a", ex.Body())

	assert.Nil(t, Compose())
	assert.Equal(t, rec, Compose(nil, rec))
	assert.IsType(t, &Pipeline{}, Compose(rec, rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex = types.NewExchange(ctx, "a")
	_ = NewPipeline(appendBody("b")).Process(ex)
	assert.Equal(t, context.Canceled, ex.Err())
}

func TestFilterAndChoice(t *testing.T) {
	low, high, other := &recorder{}, &recorder{}, &recorder{}
	choice := NewChoiceProcessor([]*FilterProcessor{
		NewFilterProcessor(headerEquals("level", "low"), low),
		NewFilterProcessor(headerEquals("level", "high"), high),
	}, other)

	for _, level := range []string{"low", "high", "none", "high"} {
		ex := types.NewExchange(context.Background(), level)
		ex.SetHeader("level", level)
		require.Nil(t, choice.Process(ex))
	}
	assert.Equal(t, []interface{}{"low"}, low.Bodies())
	assert.Equal(t, []interface{}{"high", "high"}, high.Bodies())
	assert.Equal(t, []interface{}{"none"}, other.Bodies())

	filter := NewFilterProcessor(headerEquals("pass", true), appendBody("!"))
	ex := types.NewExchange(context.Background(), "x")
	_ = filter.Process(ex)
	assert.Equal(t, "x", ex.Body())
	assert.Equal(t, false, ex.Property(types.PropertyFilterMatched))
	assert.Equal(t, int64(1), filter.Filtered())
}

func TestTryCatchFinally(t *testing.T) {
	registry := types.NewErrorTypeRegistry()
	finally := &recorder{}

	t.Run("SpecificCatchBeforeCatchAll", func(t *testing.T) {
		all := &recorder{}
		specific := &recorder{}
		try := NewTryProcessor(failing(types.NewIllegalArgumentError("bad")), []*CatchProcessor{
			NewCatchProcessor([]string{CatchAllErrorType}, registry, nil, all),
			NewCatchProcessor([]string{"IllegalArgumentError"}, registry, nil, specific),
		}, finally)
		ex := types.NewExchange(context.Background(), "body")
		assert.Nil(t, try.Process(ex))
		assert.Len(t, specific.Bodies(), 1)
		assert.Len(t, all.Bodies(), 0)
		assert.True(t, types.IsIllegalArgument(ex.Property(types.PropertyExceptionCaught).(error)))
	})

	t.Run("WrappedError", func(t *testing.T) {
		caught := &recorder{}
		wrapped := types.NewExchangeError(nil, types.NewIllegalStateError("state"), "wrapped")
		try := NewTryProcessor(failing(wrapped), []*CatchProcessor{
			NewCatchProcessor([]string{"IllegalStateError"}, registry, nil, caught),
		}, nil)
		ex := types.NewExchange(context.Background(), "body")
		assert.Nil(t, try.Process(ex))
		assert.Len(t, caught.Bodies(), 1)
	})

	t.Run("Uncaught", func(t *testing.T) {
		fin := &recorder{}
		try := NewTryProcessor(failing(errors.New("plain")), []*CatchProcessor{
			NewCatchProcessor([]string{"IllegalStateError"}, registry, nil, &recorder{}),
		}, fin)
		ex := types.NewExchange(context.Background(), "body")
		assert.EqualError(t, try.Process(ex), "plain")
		assert.Len(t, fin.Bodies(), 1)
	})

	t.Run("OnWhen", func(t *testing.T) {
		caught := &recorder{}
		try := NewTryProcessor(failing(errors.New("plain")), []*CatchProcessor{
			NewCatchProcessor(nil, registry, headerEquals("catch", true), caught),
		}, nil)
		ex := types.NewExchange(context.Background(), "body")
		assert.NotNil(t, try.Process(ex))
		ex = types.NewExchange(context.Background(), "body")
		ex.SetHeader("catch", true)
		assert.Nil(t, try.Process(ex))
		assert.Len(t, caught.Bodies(), 1)
	})
}

func TestLoop(t *testing.T) {
	ex := types.NewExchange(context.Background(), "")
	loop := NewLoopProcessor(constant(3), nil, appendBody("x"))
	require.Nil(t, loop.Process(ex))
	assert.Equal(t, "xxx", ex.Body())
	assert.Equal(t, 3, ex.Property(types.PropertyLoopSize))

	ex = types.NewExchange(context.Background(), "")
	loop.Copy = true
	require.Nil(t, loop.Process(ex))
	assert.Equal(t, "x", ex.Body())
	assert.Equal(t, 2, ex.Property(types.PropertyLoopIndex))

	ex = types.NewExchange(context.Background(), "")
	doWhile := types.PredicateFunc(func(ex *types.Exchange) (bool, error) {
		return len(ex.Body().(string)) < 5, nil
	})
	require.Nil(t, NewLoopProcessor(nil, doWhile, appendBody("y")).Process(ex))
	assert.Equal(t, "yyyyy", ex.Body())

	ex = types.NewExchange(context.Background(), "")
	assert.NotNil(t, NewLoopProcessor(constant("many"), nil, appendBody("x")).Process(ex))
}

func TestDelay(t *testing.T) {
	scheduler := pool.NewScheduledExecutor("delay", nil)
	defer scheduler.Shutdown()

	for _, async := range []bool{false, true} {
		rec := &recorder{}
		delay := NewDelayProcessor(constant(50), rec, DelayProcessorSupport{Scheduler: scheduler, AsyncDelayed: async})
		ex := types.NewExchange(context.Background(), "late")
		start := time.Now()
		require.Nil(t, delay.Process(ex))
		assert.True(t, time.Since(start) >= 50*time.Millisecond)
		assert.Equal(t, []interface{}{"late"}, rec.Bodies())
	}

	ex := types.NewExchange(context.Background(), "x")
	assert.NotNil(t, NewDelayProcessor(constant("soon"), nil, DelayProcessorSupport{}).Process(ex))
}

func TestThreads(t *testing.T) {
	wp := pool.NewWorkerPool(types.ThreadPoolProfile{Id: "threads", PoolSize: 2, MaxPoolSize: 2})
	defer wp.Shutdown()
	var ran int32
	threads := NewThreadsProcessor(wp, types.ProcessorFunc(func(ex *types.Exchange) error {
		atomic.AddInt32(&ran, 1)
		ex.SetBody("done")
		return nil
	}), true)
	ex := types.NewExchange(context.Background(), "x")
	require.Nil(t, threads.Process(ex))
	assert.Equal(t, "done", ex.Body())
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestSetters(t *testing.T) {
	ex := types.NewExchange(context.Background(), "x")
	ex.SetHeader("keep", 1)
	ex.SetHeader("tmp.a", 1)
	ex.SetHeader("tmp.b", 1)
	ex.SetProperty("p", 1)

	require.Nil(t, NewPipeline(
		NewSetBodyProcessor(constant("y")),
		NewSetHeaderProcessor("h", constant("v")),
		NewSetPropertyProcessor("q", constant(2)),
		NewRemoveHeaderProcessor("tmp.*"),
		NewRemovePropertyProcessor("p"),
	).Process(ex))

	assert.Equal(t, "y", ex.Body())
	assert.Equal(t, "v", ex.Header("h"))
	assert.Equal(t, 1, ex.Header("keep"))
	assert.Nil(t, ex.Header("tmp.a"))
	assert.Nil(t, ex.Header("tmp.b"))
	assert.False(t, ex.HasProperty("p"))
	assert.Equal(t, 2, ex.Property("q"))
}

func TestThrowAndRollback(t *testing.T) {
	ex := types.NewExchange(context.Background(), "x")
	err := NewThrowExceptionProcessor("MyError", constant("went wrong")).Process(ex)
	assert.EqualError(t, err, "MyError: went wrong")
	assert.True(t, types.NewErrorTypeRegistry().Matches("MyError", ex.Err()))

	ex = types.NewExchange(context.Background(), "x")
	var rollback *types.RollbackError
	assert.ErrorAs(t, (&RollbackProcessor{}).Process(ex), &rollback)
	assert.True(t, ex.IsRollbackOnly())

	ex = types.NewExchange(context.Background(), "x")
	assert.Nil(t, (&RollbackProcessor{MarkRollbackOnly: true}).Process(ex))
	assert.True(t, ex.IsRollbackOnly())
	assert.True(t, ex.IsRouteStop())
}

func TestCircuitBreaker(t *testing.T) {
	boom := errors.New("boom")
	fallback := &recorder{}
	cb := NewCircuitBreakerProcessor("cb", CircuitBreakerConfiguration{MinimumNumberOfCalls: 2, FailureRatio: 0.5}, failing(boom), nil, nil)

	for i := 0; i < 2; i++ {
		ex := types.NewExchange(context.Background(), i)
		assert.Equal(t, boom, cb.Process(ex))
	}
	assert.Equal(t, "open", cb.State())
	ex := types.NewExchange(context.Background(), "rejected")
	var open *types.CircuitOpenError
	assert.ErrorAs(t, cb.Process(ex), &open)

	withFallback := NewCircuitBreakerProcessor("cb2", CircuitBreakerConfiguration{}, failing(boom), fallback, nil)
	ex = types.NewExchange(context.Background(), "fb")
	assert.Nil(t, withFallback.Process(ex))
	assert.Equal(t, true, ex.Property(types.PropertyCircuitBreakerFallback))
	assert.Equal(t, boom, ex.Property(types.PropertyExceptionCaught))
	assert.Equal(t, []interface{}{"fb"}, fallback.Bodies())
}

func TestSampling(t *testing.T) {
	sampler := NewSamplingProcessor(0, 3)
	passed := 0
	for i := 0; i < 9; i++ {
		ex := types.NewExchange(context.Background(), i)
		_ = sampler.Process(ex)
		if !ex.IsRouteStop() {
			passed++
		}
	}
	assert.Equal(t, 3, passed)
	assert.Equal(t, int64(6), sampler.Dropped())

	periodic := NewSamplingProcessor(time.Hour, 0)
	first := types.NewExchange(context.Background(), 1)
	second := types.NewExchange(context.Background(), 2)
	_ = periodic.Process(first)
	_ = periodic.Process(second)
	assert.False(t, first.IsRouteStop())
	assert.True(t, second.IsRouteStop())

	short := NewSamplingProcessor(50*time.Millisecond, 0)
	_ = short.Process(types.NewExchange(context.Background(), 1))
	time.Sleep(70 * time.Millisecond)
	next := types.NewExchange(context.Background(), 2)
	_ = short.Process(next)
	assert.False(t, next.IsRouteStop())
	assert.Equal(t, int64(0), short.Dropped())
}

func TestIdempotentConsumer(t *testing.T) {
	rec := &recorder{}
	repo := cache.NewMemoryIdempotentRepository()
	id := types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
		return ex.Header("id"), nil
	})
	consumer := NewIdempotentConsumer(id, repo, rec)
	for _, key := range []string{"1", "2", "1", "3", "2"} {
		ex := types.NewExchange(context.Background(), key)
		ex.SetHeader("id", key)
		require.Nil(t, consumer.Process(ex))
	}
	assert.Equal(t, []interface{}{"1", "2", "3"}, rec.Bodies())
	assert.Equal(t, int64(2), consumer.Duplicates())

	failingConsumer := NewIdempotentConsumer(id, repo, failing(errors.New("boom")))
	ex := types.NewExchange(context.Background(), "4")
	ex.SetHeader("id", "4")
	assert.NotNil(t, failingConsumer.Process(ex))
	contains, _ := repo.Contains(context.Background(), "4")
	assert.False(t, contains, "removed on failure")

	ex = types.NewExchange(context.Background(), "none")
	assert.NotNil(t, consumer.Process(ex))
}

func TestOnCompletion(t *testing.T) {
	_, err := NewOnCompletionProcessor(nil, true, true, nil)
	assert.True(t, types.IsIllegalArgument(err))

	failures := &recorder{}
	onFailure, err := NewOnCompletionProcessor(failures, false, true, nil)
	require.Nil(t, err)
	completions := &recorder{}
	onComplete, err := NewOnCompletionProcessor(completions, false, false, nil)
	require.Nil(t, err)

	route := types.ProcessorFunc(func(ex *types.Exchange) error {
		ex.UnitOfWork().AddSynchronization(onFailure)
		ex.UnitOfWork().AddSynchronization(onComplete)
		if ex.Body() == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	uow := NewUnitOfWorkProcessor(route, nil)

	_ = uow.Process(types.NewExchange(context.Background(), "ok"))
	ex := types.NewExchange(context.Background(), "fail")
	_ = uow.Process(ex)
	assert.True(t, ex.UnitOfWork().IsDone())
	assert.Equal(t, []interface{}{"fail"}, failures.Bodies())
	assert.Equal(t, []interface{}{"ok", "fail"}, completions.Bodies())
}

func TestUnitOfWorkOriginalMessage(t *testing.T) {
	uow := NewUnitOfWorkProcessor(appendBody("-changed"), nil)
	ex := types.NewExchange(context.Background(), "in")
	require.Nil(t, uow.Process(ex))
	original := ex.Property(types.PropertyOriginalMessage).(*types.Message)
	assert.Equal(t, "in", original.Body)
	assert.Equal(t, "in-changed", ex.Body())
}

func counting(counter *int32, err error) types.Processor {
	return types.ProcessorFunc(func(*types.Exchange) error {
		atomic.AddInt32(counter, 1)
		return err
	})
}

func TestLoadBalancer(t *testing.T) {
	t.Run("Weighted", func(t *testing.T) {
		heavy, light := &recorder{}, &recorder{}
		x, err := NewLoadBalanceProcessor([]types.Processor{heavy, light}, nil, LoadBalanceOptions{
			Strategy:          WeightedLoadBalancer,
			DistributionRatio: "2,1",
			RoundRobin:        true,
		})
		require.NoError(t, err)
		for i := 0; i < 6; i++ {
			require.NoError(t, x.Process(types.NewExchange(context.Background(), i)))
		}
		assert.Equal(t, []interface{}{0, 2, 3, 5}, heavy.Bodies())
		assert.Equal(t, []interface{}{1, 4}, light.Bodies())
	})

	t.Run("Sticky", func(t *testing.T) {
		recorders := []*recorder{{}, {}, {}}
		x, err := NewLoadBalanceProcessor([]types.Processor{recorders[0], recorders[1], recorders[2]},
			types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) { return ex.Header("key"), nil }),
			LoadBalanceOptions{Strategy: StickyLoadBalancer})
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			ex := types.NewExchange(context.Background(), i)
			ex.SetHeader("key", "customer-1")
			require.NoError(t, x.Process(ex))
		}
		var sizes []int
		for _, r := range recorders {
			sizes = append(sizes, len(r.Bodies()))
		}
		assert.ElementsMatch(t, []int{5, 0, 0}, sizes)
	})

	t.Run("Topic", func(t *testing.T) {
		a, b := &recorder{}, &recorder{}
		x, err := NewLoadBalanceProcessor([]types.Processor{appendBody("!"), a, b}, nil, LoadBalanceOptions{Strategy: TopicLoadBalancer})
		require.NoError(t, err)
		ex := types.NewExchange(context.Background(), "m")
		require.NoError(t, x.Process(ex))
		assert.Equal(t, "m", ex.Body())
		assert.Equal(t, []interface{}{"m"}, a.Bodies())
		assert.Equal(t, []interface{}{"m"}, b.Bodies())
	})

	t.Run("FailoverAttempts", func(t *testing.T) {
		boom := errors.New("boom")
		var first, second, third int32
		options := DefaultLoadBalanceOptions()
		options.Strategy = FailoverLoadBalancer
		options.MaximumFailoverAttempts = 1
		x, err := NewLoadBalanceProcessor([]types.Processor{
			counting(&first, boom), counting(&second, boom), counting(&third, nil),
		}, nil, options)
		require.NoError(t, err)
		ex := types.NewExchange(context.Background(), "a")
		assert.ErrorIs(t, x.Process(ex), boom)
		assert.Equal(t, int32(1), first)
		assert.Equal(t, int32(1), second)
		assert.Equal(t, int32(0), third)
	})

	t.Run("FailoverRestoresMessage", func(t *testing.T) {
		rec := &recorder{}
		options := DefaultLoadBalanceOptions()
		options.Strategy = FailoverLoadBalancer
		broken := types.ProcessorFunc(func(ex *types.Exchange) error {
			ex.SetBody("changed")
			return errors.New("broken")
		})
		x, err := NewLoadBalanceProcessor([]types.Processor{broken, rec}, nil, options)
		require.NoError(t, err)
		ex := types.NewExchange(context.Background(), "original")
		require.NoError(t, x.Process(ex))
		assert.Equal(t, []interface{}{"original"}, rec.Bodies())
		assert.Equal(t, 1, ex.Property(types.PropertyLoadBalancerIndex))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := NewLoadBalanceProcessor(nil, nil, DefaultLoadBalanceOptions())
		assert.Error(t, err)
		_, err = NewLoadBalanceProcessor([]types.Processor{&recorder{}}, nil, LoadBalanceOptions{Strategy: StickyLoadBalancer})
		assert.Error(t, err)
		_, err = NewLoadBalanceProcessor([]types.Processor{&recorder{}}, nil, LoadBalanceOptions{Strategy: WeightedLoadBalancer, DistributionRatio: "1,2"})
		assert.Error(t, err)
		_, err = NewLoadBalanceProcessor([]types.Processor{&recorder{}}, nil, LoadBalanceOptions{Strategy: "nearest"})
		assert.Error(t, err)
	})
}

func TestValidateAndSort(t *testing.T) {
	v := NewValidateProcessor(headerEquals("ok", true), "header.ok")
	ex := types.NewExchange(context.Background(), "a")
	ex.SetHeader("ok", true)
	assert.NoError(t, v.Process(ex))

	ex = types.NewExchange(context.Background(), "a")
	err := v.Process(ex)
	var invalid *types.PredicateValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "header.ok", invalid.Predicate)
	assert.Equal(t, ex.Id(), invalid.ExchangeId)
	assert.Same(t, err, ex.Err())

	s := NewSortProcessor(constant([]int{3, 10, 2}), nil)
	ex = types.NewExchange(context.Background(), nil)
	require.NoError(t, s.Process(ex))
	assert.Equal(t, []interface{}{2, 3, 10}, ex.Body())

	s = NewSortProcessor(constant("b; a; c"), nil)
	s.Delimiter = ";"
	require.NoError(t, s.Process(ex))
	assert.Equal(t, []interface{}{"a", "b", "c"}, ex.Body())
}

func TestStepProcessor(t *testing.T) {
	var inside interface{}
	x := NewStepProcessor("s1", types.ProcessorFunc(func(ex *types.Exchange) error {
		inside = ex.Property(types.PropertyStepId)
		return nil
	}))
	ex := types.NewExchange(context.Background(), "a")
	ex.SetProperty(types.PropertyStepId, "outer")
	require.NoError(t, x.Process(ex))
	assert.Equal(t, "s1", inside)
	assert.Equal(t, "outer", ex.Property(types.PropertyStepId))
}
