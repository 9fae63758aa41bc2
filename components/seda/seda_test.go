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

package seda

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEndpoint(t *testing.T, c *Component, name string, params map[string]string) types.Endpoint {
	endpoint, err := c.CreateEndpoint(nil, "seda:"+name, name, params)
	require.NoError(t, err)
	return endpoint
}

func collect(ch <-chan interface{}, n int, timeout time.Duration) []interface{} {
	var result []interface{}
	deadline := time.After(timeout)
	for len(result) < n {
		select {
		case v := <-ch:
			result = append(result, v)
		case <-deadline:
			return result
		}
	}
	return result
}

func TestSedaInOnly(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "queue", nil)

	received := make(chan interface{}, 10)
	consumer, err := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		received <- exchange.Body()
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	producer, _ := endpoint.CreateProducer()
	for _, body := range []string{"a", "b", "c"} {
		ex := types.NewExchange(context.Background(), body)
		assert.NoError(t, producer.Process(ex))
	}
	assert.ElementsMatch(t, []interface{}{"a", "b", "c"}, collect(received, 3, 2*time.Second))
}

func TestSedaOrderedWhenBlocking(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "ordered", map[string]string{"blockWhenFull": "true"})

	received := make(chan interface{}, 10)
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		received <- exchange.Body()
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	producer, _ := endpoint.CreateProducer()
	for i := 0; i < 5; i++ {
		assert.NoError(t, producer.Process(types.NewExchange(context.Background(), i)))
	}
	assert.Equal(t, []interface{}{0, 1, 2, 3, 4}, collect(received, 5, 2*time.Second))
}

func TestSedaWaitForTaskToComplete(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "reply", map[string]string{"waitForTaskToComplete": WaitAlways})
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		if exchange.Body() == "fail" {
			return errors.New("boom")
		}
		exchange.SetBody(exchange.Body().(string) + "-done")
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	producer, _ := endpoint.CreateProducer()
	ex := types.NewExchange(context.Background(), "job")
	assert.NoError(t, producer.Process(ex))
	assert.Equal(t, "job-done", ex.Body())

	failed := types.NewExchange(context.Background(), "fail")
	assert.EqualError(t, producer.Process(failed), "boom")

	//InOut 交换在 IfReplyExpected 模式下等待
	inOut := newEndpoint(t, c, "reply", nil)
	inOutProducer, _ := inOut.CreateProducer()
	request := types.NewExchange(context.Background(), "req")
	request.Pattern = types.InOut
	assert.NoError(t, inOutProducer.Process(request))
	assert.Equal(t, "req-done", request.Body())
}

func TestSedaWaitTimeout(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "slow", map[string]string{"waitForTaskToComplete": WaitAlways, "timeout": "50"})
	release := make(chan struct{})
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		<-release
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))

	producer, _ := endpoint.CreateProducer()
	err := producer.Process(types.NewExchange(context.Background(), "x"))
	var timedOut *types.ExchangeTimedOutError
	assert.True(t, errors.As(err, &timedOut))
	close(release)
	assert.NoError(t, consumer.Stop(context.Background()))
}

func TestSedaNoConsumers(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	producer, _ := newEndpoint(t, c, "nobody", nil).CreateProducer()
	assert.True(t, errors.Is(producer.Process(types.NewExchange(context.Background(), "x")), ErrNoConsumers))

	discarding, _ := newEndpoint(t, c, "nobody", map[string]string{"discardIfNoConsumers": "true"}).CreateProducer()
	assert.NoError(t, discarding.Process(types.NewExchange(context.Background(), "x")))

	_, err := c.CreateEndpoint(nil, "seda:x", "x", map[string]string{"waitForTaskToComplete": "Sometimes"})
	assert.True(t, types.IsIllegalArgument(err))
}

func TestSedaConcurrentConsumers(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "parallel", map[string]string{"concurrentConsumers": "3"})

	var active, maxActive int32
	var wg sync.WaitGroup
	wg.Add(3)
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		defer wg.Done()
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())

	producer, _ := endpoint.CreateProducer()
	for i := 0; i < 3; i++ {
		assert.NoError(t, producer.Process(types.NewExchange(context.Background(), i)))
	}
	wg.Wait()
	assert.Equal(t, int32(3), atomic.LoadInt32(&maxActive))
}

func TestSedaMultipleConsumers(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "topic", map[string]string{"multipleConsumers": "true"})

	received := make(chan interface{}, 10)
	for _, name := range []string{"first", "second"} {
		name := name
		consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
			received <- name
			return nil
		}))
		require.NoError(t, consumer.Start(context.Background()))
		defer consumer.Stop(context.Background())
	}
	assert.Equal(t, 2, c.ConsumerCount("topic"))

	single := newEndpoint(t, c, "single", nil)
	first, _ := single.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error { return nil }))
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())
	second, _ := single.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error { return nil }))
	assert.True(t, types.IsIllegalState(second.Start(context.Background())))

	producer, _ := endpoint.CreateProducer()
	assert.NoError(t, producer.Process(types.NewExchange(context.Background(), "x")))
	assert.ElementsMatch(t, []interface{}{"first", "second"}, collect(received, 2, 2*time.Second))
}

func TestSedaSuspend(t *testing.T) {
	c := New()
	defer c.Stop(context.Background())
	endpoint := newEndpoint(t, c, "suspend", nil)
	received := make(chan interface{}, 10)
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		received <- exchange.Body()
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop(context.Background())
	suspendable := consumer.(types.SuspendableConsumer)
	suspendable.Suspend()

	producer, _ := endpoint.CreateProducer()
	assert.NoError(t, producer.Process(types.NewExchange(context.Background(), "later")))
	assert.Empty(t, collect(received, 1, 100*time.Millisecond))

	suspendable.Resume()
	assert.Equal(t, []interface{}{"later"}, collect(received, 1, 2*time.Second))
}
