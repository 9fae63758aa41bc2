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

package direct

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirect(t *testing.T) {
	component := New()
	assert.Equal(t, Scheme, component.Scheme())

	endpoint, err := component.CreateEndpoint(nil, "direct:start", "start", nil)
	require.NoError(t, err)
	consumer, err := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		exchange.SetBody(exchange.Body().(string) + "!")
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	assert.Equal(t, 1, component.ConsumerCount())

	producer, err := endpoint.CreateProducer()
	require.NoError(t, err)
	ex := types.NewExchange(context.Background(), "hi")
	assert.NoError(t, producer.Process(ex))
	assert.Equal(t, "hi!", ex.Body())

	//同名的第二个消费者
	other, err := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error { return nil }))
	require.NoError(t, err)
	assert.True(t, types.IsIllegalState(other.Start(context.Background())))

	require.NoError(t, consumer.Stop(context.Background()))
	assert.Equal(t, 0, component.ConsumerCount())
}

func TestDirectNoConsumer(t *testing.T) {
	component := New()
	endpoint, err := component.CreateEndpoint(nil, "direct:none?block=false", "none", map[string]string{"block": "false"})
	require.NoError(t, err)
	producer, _ := endpoint.CreateProducer()
	err = producer.Process(types.NewExchange(context.Background(), "x"))
	assert.True(t, errors.Is(err, ErrNoConsumer))

	_, err = component.CreateEndpoint(nil, "direct:", "", nil)
	assert.True(t, types.IsIllegalArgument(err))
	_, err = component.CreateEndpoint(nil, "direct:a?timeout=x", "a", map[string]string{"timeout": "x"})
	assert.True(t, types.IsIllegalArgument(err))
}

func TestDirectBlockUntilConsumer(t *testing.T) {
	component := New()
	endpoint, err := component.CreateEndpoint(nil, "direct:late?timeout=2000", "late", map[string]string{"timeout": "2000"})
	require.NoError(t, err)
	producer, _ := endpoint.CreateProducer()

	go func() {
		time.Sleep(50 * time.Millisecond)
		consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
			exchange.SetHeader("seen", true)
			return nil
		}))
		_ = consumer.Start(context.Background())
	}()
	ex := types.NewExchange(context.Background(), "x")
	assert.NoError(t, producer.Process(ex))
	assert.Equal(t, true, ex.Header("seen"))

	timeoutEndpoint, _ := component.CreateEndpoint(nil, "direct:never?timeout=50", "never", map[string]string{"timeout": "50"})
	timeoutProducer, _ := timeoutEndpoint.CreateProducer()
	assert.True(t, errors.Is(timeoutProducer.Process(types.NewExchange(context.Background(), "x")), ErrNoConsumer))
}

func TestDirectSuspend(t *testing.T) {
	component := New()
	endpoint, _ := component.CreateEndpoint(nil, "direct:s", "s", map[string]string{"block": "false"})
	consumer, _ := endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error {
		return errors.New("boom")
	}))
	require.NoError(t, consumer.Start(context.Background()))
	suspendable := consumer.(types.SuspendableConsumer)
	producer, _ := endpoint.CreateProducer()

	ex := types.NewExchange(context.Background(), "x")
	assert.EqualError(t, producer.Process(ex), "boom")
	assert.Error(t, ex.Err())

	suspendable.Suspend()
	assert.True(t, suspendable.IsSuspended())
	assert.True(t, errors.Is(producer.Process(types.NewExchange(context.Background(), "x")), ErrNoConsumer))
	suspendable.Resume()
	assert.EqualError(t, producer.Process(types.NewExchange(context.Background(), "x")), "boom")
}
