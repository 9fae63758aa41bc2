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

package resequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var body = types.ExpressionFunc(func(ex *types.Exchange) (interface{}, error) {
	return ex.Body(), nil
})

type collector struct {
	mu     sync.Mutex
	bodies []interface{}
}

func (c *collector) Process(ex *types.Exchange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, ex.Body())
	return nil
}

func (c *collector) Bodies() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.bodies...)
}

func (c *collector) awaitBodies(t *testing.T, n int) []interface{} {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Bodies()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.Bodies()
}

func send(t *testing.T, p types.Processor, bodies ...interface{}) {
	t.Helper()
	for _, b := range bodies {
		require.Nil(t, p.Process(types.NewExchange(context.Background(), b)))
	}
}

func newBatch(t *testing.T, out types.Processor, config BatchConfig) *BatchResequencer {
	r := NewBatchResequencer(body, out, config, nil)
	require.Nil(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func newStream(t *testing.T, out types.Processor, config StreamConfig) *StreamResequencer {
	r := NewStreamResequencer(body, nil, out, config, nil)
	require.Nil(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func TestBatchResequencer(t *testing.T) {
	t.Run("BatchSize", func(t *testing.T) {
		out := &collector{}
		r := newBatch(t, out, BatchConfig{BatchSize: 3, BatchTimeout: 10000})
		send(t, r, 3, 1, 2)
		assert.Equal(t, []interface{}{1, 2, 3}, out.awaitBodies(t, 3))
		assert.Equal(t, 0, r.QueueSize())
	})
	t.Run("Reverse", func(t *testing.T) {
		out := &collector{}
		r := newBatch(t, out, BatchConfig{BatchSize: 3, BatchTimeout: 10000, Reverse: true})
		send(t, r, 3, 1, 2)
		assert.Equal(t, []interface{}{3, 2, 1}, out.awaitBodies(t, 3))
	})
	t.Run("Strings", func(t *testing.T) {
		out := &collector{}
		r := newBatch(t, out, BatchConfig{BatchSize: 3, BatchTimeout: 10000})
		send(t, r, "b", "c", "a")
		assert.Equal(t, []interface{}{"a", "b", "c"}, out.awaitBodies(t, 3))
	})
	t.Run("Duplicates", func(t *testing.T) {
		out := &collector{}
		r := newBatch(t, out, BatchConfig{BatchSize: 3, BatchTimeout: 10000})
		send(t, r, 2, 1, 2)
		assert.Equal(t, []interface{}{1, 2}, out.awaitBodies(t, 2))

		out = &collector{}
		r = newBatch(t, out, BatchConfig{BatchSize: 3, BatchTimeout: 10000, AllowDuplicates: true})
		send(t, r, 2, 1, 2)
		assert.Equal(t, []interface{}{1, 2, 2}, out.awaitBodies(t, 3))
	})
	t.Run("Timeout", func(t *testing.T) {
		out := &collector{}
		r := newBatch(t, out, BatchConfig{BatchSize: 100, BatchTimeout: 50})
		send(t, r, 20, 10)
		assert.Equal(t, []interface{}{10, 20}, out.awaitBodies(t, 2))
	})
	t.Run("StopFlushes", func(t *testing.T) {
		out := &collector{}
		r := NewBatchResequencer(body, out, BatchConfig{BatchSize: 100, BatchTimeout: 60000}, nil)
		require.Nil(t, r.Start(context.Background()))
		send(t, r, 2, 1)
		require.Nil(t, r.Stop(context.Background()))
		assert.Equal(t, []interface{}{1, 2}, out.Bodies())
		err := r.Process(types.NewExchange(context.Background(), 3))
		assert.True(t, types.IsIllegalState(err))
	})
	t.Run("InvalidExchanges", func(t *testing.T) {
		r := newBatch(t, &collector{}, DefaultBatchConfig())
		assert.NotNil(t, r.Process(types.NewExchange(context.Background(), nil)))

		r = newBatch(t, &collector{}, BatchConfig{IgnoreInvalidExchanges: true})
		assert.Nil(t, r.Process(types.NewExchange(context.Background(), nil)))
		assert.Equal(t, 0, r.QueueSize())
	})
	t.Run("UnitOfWork", func(t *testing.T) {
		var uow types.UnitOfWork
		done := make(chan struct{})
		r := newBatch(t, types.ProcessorFunc(func(ex *types.Exchange) error {
			uow = ex.UnitOfWork()
			close(done)
			return nil
		}), BatchConfig{BatchSize: 1})
		send(t, r, 1)
		<-done
		assert.NotNil(t, uow)
	})
}

func TestStreamResequencer(t *testing.T) {
	t.Run("Ordering", func(t *testing.T) {
		out := &collector{}
		r := newStream(t, out, StreamConfig{Timeout: 100, DeliveryAttemptInterval: 20})
		send(t, r, 3, 1, 2)
		assert.Equal(t, []interface{}{1, 2, 3}, out.awaitBodies(t, 3))
	})
	t.Run("SuccessorsFollowImmediately", func(t *testing.T) {
		out := &collector{}
		r := newStream(t, out, StreamConfig{Timeout: 50, DeliveryAttemptInterval: 10})
		send(t, r, 1)
		out.awaitBodies(t, 1)
		start := time.Now()
		send(t, r, 2, 3)
		assert.Equal(t, []interface{}{1, 2, 3}, out.awaitBodies(t, 3))
		assert.True(t, time.Since(start) < 40*time.Millisecond)
	})
	t.Run("Gap", func(t *testing.T) {
		out := &collector{}
		r := newStream(t, out, StreamConfig{Timeout: 50, DeliveryAttemptInterval: 10})
		send(t, r, 1)
		out.awaitBodies(t, 1)
		send(t, r, 3)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, []interface{}{1}, out.Bodies())
		assert.Equal(t, []interface{}{1, 3}, out.awaitBodies(t, 2))
	})
	t.Run("RejectOld", func(t *testing.T) {
		out := &collector{}
		r := newStream(t, out, StreamConfig{Timeout: 30, DeliveryAttemptInterval: 10, RejectOld: true})
		send(t, r, 1, 2)
		out.awaitBodies(t, 2)
		err := r.Process(types.NewExchange(context.Background(), 1))
		assert.True(t, errors.Is(err, ErrMessageRejected))
	})
	t.Run("Capacity", func(t *testing.T) {
		out := &collector{}
		r := NewStreamResequencer(body, nil, out, StreamConfig{Capacity: 2, Timeout: 3000, DeliveryAttemptInterval: 10000}, nil)
		require.Nil(t, r.Start(context.Background()))
		send(t, r, 5, 3)
		assert.Equal(t, 2, r.Size())

		start := time.Now()
		send(t, r, 4)
		assert.True(t, time.Since(start) < time.Second)
		assert.Equal(t, []interface{}{3}, out.Bodies())
		assert.Equal(t, 2, r.Size())

		require.Nil(t, r.Stop(context.Background()))
		assert.Equal(t, []interface{}{3, 4, 5}, out.Bodies())
	})
	t.Run("Duplicates", func(t *testing.T) {
		out := &collector{}
		r := newStream(t, out, StreamConfig{Timeout: 10000, DeliveryAttemptInterval: 10000})
		send(t, r, 4, 4)
		assert.Equal(t, 1, r.Size())
	})
	t.Run("InvalidExchanges", func(t *testing.T) {
		r := newStream(t, &collector{}, DefaultStreamConfig())
		assert.NotNil(t, r.Process(types.NewExchange(context.Background(), "abc")))

		r = newStream(t, &collector{}, StreamConfig{IgnoreInvalidExchanges: true})
		assert.Nil(t, r.Process(types.NewExchange(context.Background(), "abc")))
		assert.Equal(t, 0, r.Size())
	})
}

func TestComparators(t *testing.T) {
	c := DefaultSequenceComparator{}
	assert.True(t, c.Successor(1, 2))
	assert.True(t, c.Successor("1", int64(2)))
	assert.False(t, c.Successor(1, 3))
	assert.Equal(t, -1, c.Compare(1, 2))
	assert.False(t, c.IsValid(nil))
	assert.False(t, c.IsValid("x"))

	assert.Equal(t, -1, NaturalComparator{}.Compare(2, 10))
	assert.Equal(t, 1, ReverseComparator{Comparator: NaturalComparator{}}.Compare(2, 10))
}
