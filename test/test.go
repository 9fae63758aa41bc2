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

// Package test helpers shared by the tests of the route engine packages:
// recording and failing processors, exchange builders and wait helpers.
//
// Package test 测试辅助工具
package test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rulego/routego/api/types"
)

// DefaultTimeout how long the wait helpers wait by default
const DefaultTimeout = 5 * time.Second

// Sender sends exchanges to endpoints, e.g. the route engine
type Sender interface {
	Send(ctx context.Context, uri string, exchange *types.Exchange) error
}

// Msg a message to send
type Msg struct {
	Body    interface{}
	Headers map[string]interface{}
	//发之后暂停间隔
	AfterSleep time.Duration
}

// NewExchange creates an exchange with body and headers
func NewExchange(body interface{}, headers map[string]interface{}) *types.Exchange {
	exchange := types.NewExchange(context.Background(), body)
	for k, v := range headers {
		exchange.SetHeader(k, v)
	}
	return exchange
}

// SendMsgs sends every message to uri in order and returns the exchanges,
// failing the test when a send returns an error and failOnError is set
func SendMsgs(t *testing.T, sender Sender, uri string, msgs []Msg, failOnError bool) []*types.Exchange {
	t.Helper()
	var exchanges []*types.Exchange
	for _, item := range msgs {
		exchange := NewExchange(item.Body, item.Headers)
		err := sender.Send(context.Background(), uri, exchange)
		if err != nil && failOnError {
			t.Fatalf("send %v to %s: %v", item.Body, uri, err)
		}
		exchanges = append(exchanges, exchange)
		if item.AfterSleep > 0 {
			time.Sleep(item.AfterSleep)
		}
	}
	return exchanges
}

// Bodies creates one message per body
func Bodies(bodies ...interface{}) []Msg {
	msgs := make([]Msg, 0, len(bodies))
	for _, b := range bodies {
		msgs = append(msgs, Msg{Body: b})
	}
	return msgs
}

// Recorder a processor recording a copy of every exchange it processes
// Recorder 记录处理过的交换
type Recorder struct {
	mu        sync.Mutex
	exchanges []*types.Exchange
	changed   chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) Process(exchange *types.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, exchange.Copy())
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// Exchanges the recorded exchanges in arrival order
func (r *Recorder) Exchanges() []*types.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Exchange(nil), r.exchanges...)
}

// Bodies the bodies of the recorded exchanges
func (r *Recorder) Bodies() []interface{} {
	var bodies []interface{}
	for _, ex := range r.Exchanges() {
		bodies = append(bodies, ex.Body())
	}
	return bodies
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exchanges)
}

// Await waits until n exchanges were recorded
func (r *Recorder) Await(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.mu.Lock()
		count := len(r.exchanges)
		changed := r.changed
		r.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		}
	}
}

// Fail a processor failing every exchange with err
func Fail(err error) types.Processor {
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		return err
	})
}

// FailTimes fails the first n exchanges with err, then succeeds
type FailTimes struct {
	N     int32
	Err   error
	calls int32
}

func (f *FailTimes) Process(exchange *types.Exchange) error {
	if atomic.AddInt32(&f.calls, 1) <= f.N {
		return f.Err
	}
	return nil
}

// Calls number of processed exchanges, failed ones included
func (f *FailTimes) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

// UpperProcessor converts string bodies to uppercase
type UpperProcessor struct{}

func (x *UpperProcessor) Process(exchange *types.Exchange) error {
	if s, ok := exchange.Body().(string); ok {
		exchange.SetBody(strings.ToUpper(s))
	}
	return nil
}

// TimeProcessor adds the processing time as the timestamp header
type TimeProcessor struct{}

func (x *TimeProcessor) Process(exchange *types.Exchange) error {
	exchange.SetHeader("timestamp", time.Now().Format(time.RFC3339))
	return nil
}

// WaitFor polls cond until it holds or timeout expires
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
