/*
 * Copyright 2024 The RuleGo Authors.
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

package base

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
)

func TestGracefulShutdownBasicFunctionality(t *testing.T) {
	graceful := &GracefulShutdown{}
	graceful.InitGracefulShutdown(types.DiscardLogger(), time.Second)

	assert.False(t, graceful.IsShuttingDown())
	assert.NoError(t, graceful.ShutdownContext().Err())

	var stopped int32
	assert.True(t, graceful.GracefulStop(context.Background(), func() {
		atomic.StoreInt32(&stopped, 1)
	}))
	assert.True(t, graceful.IsShuttingDown())
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))
	assert.Error(t, graceful.ShutdownContext().Err())
	assert.False(t, graceful.BeginOp())
	assert.Equal(t, int64(0), graceful.ActiveOperations())

	//重复停机
	assert.True(t, graceful.GracefulStop(context.Background(), nil))
}

func TestGracefulShutdownWaitsForInflight(t *testing.T) {
	graceful := &GracefulShutdown{}
	graceful.InitGracefulShutdown(nil, time.Second)

	assert.True(t, graceful.BeginOp())
	go func() {
		time.Sleep(50 * time.Millisecond)
		graceful.EndOp()
	}()
	start := time.Now()
	assert.True(t, graceful.GracefulStop(context.Background(), nil))
	assert.True(t, time.Since(start) >= 40*time.Millisecond)
	assert.Equal(t, int64(0), graceful.ActiveOperations())
}

func TestGracefulShutdownTimeout(t *testing.T) {
	graceful := &GracefulShutdown{}
	graceful.InitGracefulShutdown(types.DiscardLogger(), 50*time.Millisecond)
	assert.True(t, graceful.BeginOp())

	assert.False(t, graceful.GracefulStop(context.Background(), nil))
	assert.Error(t, graceful.ShutdownContext().Err())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	graceful.InitGracefulShutdown(nil, time.Minute)
	assert.True(t, graceful.BeginOp())
	assert.False(t, graceful.GracefulStop(ctx, nil))
}
