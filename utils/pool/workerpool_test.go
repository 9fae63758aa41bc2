/*
 * Copyright 2023 The RuleGo Authors.
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

package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	wp := NewWorkerPool(types.ThreadPoolProfile{Id: "test", PoolSize: 4, MaxPoolSize: 200, MaxQueueSize: 10000})
	wp.Start()
	defer wp.Shutdown()
	var n int32
	var wg sync.WaitGroup
	wg.Add(10000)
	fn := func() {
		atomic.AddInt32(&n, 1)
		wg.Done()
	}
	for i := 0; i < 10000; i++ {
		require.Nil(t, wp.Submit(fn), "cannot submit function #%d", i)
	}
	wg.Wait()
	assert.Equal(t, int32(10000), atomic.LoadInt32(&n))
	assert.True(t, wp.WorkersCount() <= 200)
}

func TestWorkerPoolRejectedPolicies(t *testing.T) {
	block := make(chan struct{})
	newPool := func(policy types.RejectedPolicy) *WorkerPool {
		wp := NewWorkerPool(types.ThreadPoolProfile{Id: string(policy), PoolSize: 1, MaxPoolSize: 1, MaxQueueSize: 1, RejectedPolicy: policy})
		wp.Start()
		started := make(chan struct{})
		require.Nil(t, wp.Submit(func() {
			close(started)
			<-block
		}))
		<-started
		require.Nil(t, wp.Submit(func() {}))
		return wp
	}
	defer close(block)

	t.Run("Abort", func(t *testing.T) {
		wp := newPool(types.RejectedAbort)
		err := wp.Submit(func() {})
		var rejected *types.RejectedExecutionError
		assert.ErrorAs(t, err, &rejected)
	})
	t.Run("CallerRuns", func(t *testing.T) {
		wp := newPool(types.RejectedCallerRuns)
		ran := false
		assert.Nil(t, wp.Submit(func() { ran = true }))
		assert.True(t, ran)
	})
	t.Run("Discard", func(t *testing.T) {
		wp := newPool(types.RejectedDiscard)
		ran := false
		assert.Nil(t, wp.Submit(func() { ran = true }))
		assert.False(t, ran)
		assert.Equal(t, 1, wp.QueueSize())
	})
	t.Run("DiscardOldest", func(t *testing.T) {
		wp := newPool(types.RejectedDiscardOldest)
		assert.Nil(t, wp.Submit(func() {}))
		assert.Equal(t, 1, wp.QueueSize())
	})
}

func TestWorkerPoolShutdown(t *testing.T) {
	wp := NewWorkerPool(types.DefaultThreadPoolProfile())
	wp.Start()
	done := make(chan struct{})
	require.Nil(t, wp.Submit(func() { close(done) }))
	<-done
	wp.Shutdown()
	assert.True(t, wp.IsShutdown())
	err := wp.Submit(func() {})
	var rejected *types.RejectedExecutionError
	assert.ErrorAs(t, err, &rejected)
}

func TestCallerRunsExecutor(t *testing.T) {
	e := NewCallerRunsExecutor()
	ran := false
	assert.Nil(t, e.Submit(func() { ran = true }))
	assert.True(t, ran)
	e.Shutdown()
	assert.True(t, e.IsShutdown())
}

func TestScheduledExecutor(t *testing.T) {
	s := NewScheduledExecutor("timer", nil)
	defer s.Shutdown()

	t.Run("Schedule", func(t *testing.T) {
		fired := make(chan time.Time, 1)
		start := time.Now()
		_, err := s.Schedule(50*time.Millisecond, func() { fired <- time.Now() })
		require.Nil(t, err)
		select {
		case at := <-fired:
			assert.True(t, at.Sub(start) >= 50*time.Millisecond)
		case <-time.After(time.Second):
			t.Fatal("task did not fire")
		}
	})
	t.Run("Cancel", func(t *testing.T) {
		var n int32
		cancel, err := s.Schedule(50*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
		require.Nil(t, err)
		cancel()
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(0), atomic.LoadInt32(&n))
	})
	t.Run("FixedRate", func(t *testing.T) {
		var n int32
		cancel, err := s.ScheduleAtFixedRate(0, 20*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
		require.Nil(t, err)
		time.Sleep(110 * time.Millisecond)
		cancel()
		count := atomic.LoadInt32(&n)
		assert.True(t, count >= 3, "fired %d times", count)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, count, atomic.LoadInt32(&n))
	})
	t.Run("Shutdown", func(t *testing.T) {
		s2 := NewScheduledExecutor("s2", NewCallerRunsExecutor())
		var n int32
		_, _ = s2.Schedule(50*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
		assert.Equal(t, 1, s2.Pending())
		s2.Shutdown()
		assert.Equal(t, 0, s2.Pending())
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(0), atomic.LoadInt32(&n))
		_, err := s2.Schedule(time.Millisecond, func() {})
		assert.NotNil(t, err)
	})
}
