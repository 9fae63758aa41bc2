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

// Package throttle limits how many exchanges flow per time period, per
// correlation group.
//
// Package throttle 节流处理器，按关联分组限制每个时间窗口内的请求数
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/pool"
	"github.com/rulego/routego/utils/str"
)

const (
	// DefaultTimePeriodMillis one second
	DefaultTimePeriodMillis = 1000
	// cleanPeriod idle buckets are purged after this long
	cleanPeriod = 10 * time.Second
	defaultKey  = "default"
)

// Configuration throttler options
type Configuration struct {
	TimePeriodMillis       int64 `json:"timePeriodMillis" mapstructure:"timePeriodMillis"`
	AsyncDelayed           bool  `json:"asyncDelayed" mapstructure:"asyncDelayed"`
	RejectExecution        bool  `json:"rejectExecution" mapstructure:"rejectExecution"`
	CallerRunsWhenRejected bool  `json:"callerRunsWhenRejected" mapstructure:"callerRunsWhenRejected"`
}

// DefaultConfiguration one second period, caller runs when the scheduler rejects
func DefaultConfiguration() Configuration {
	return Configuration{TimePeriodMillis: DefaultTimePeriodMillis, CallerRunsWhenRejected: true}
}

// bucket grant times of the permits taken in the current window, oldest
// first. A permit is free again one period after it was granted.
type bucket struct {
	grants   *deque.Deque[time.Time]
	max      int
	lastUsed time.Time
}

// take grants the earliest permit at or after now that keeps at most max
// grants in any period. ok is false when reject is set and no permit is free now.
func (b *bucket) take(now time.Time, period time.Duration, reject bool) (time.Time, bool) {
	for b.grants.Len() > 0 && !b.grants.Front().Add(period).After(now) {
		b.grants.PopFront()
	}
	slot := now
	if n := b.grants.Len(); n >= b.max {
		if reject {
			return time.Time{}, false
		}
		if free := b.grants.At(n - b.max).Add(period); free.After(slot) {
			slot = free
		}
	}
	var later []time.Time
	for b.grants.Len() > 0 && b.grants.Back().After(slot) {
		later = append(later, b.grants.PopBack())
	}
	b.grants.PushBack(slot)
	for i := len(later) - 1; i >= 0; i-- {
		b.grants.PushBack(later[i])
	}
	return slot, true
}

// idle no permit of the bucket is still in use at now
func (b *bucket) idle(now time.Time, period time.Duration) bool {
	return b.grants.Len() == 0 || !b.grants.Back().Add(period).After(now)
}

var (
	_ types.AsyncProcessor = (*Throttler)(nil)
	_ types.Service        = (*Throttler)(nil)
)

// Throttler lets at most N exchanges per period through for each correlation
// value. N is evaluated for every exchange and applied when it changes.
// Exchanges over the limit are delayed, or rejected when RejectExecution is set.
//
// Throttler 节流处理器
type Throttler struct {
	processor.DelayProcessorSupport
	Configuration

	id          string
	maxRequests types.Expression
	correlation types.Expression
	output      types.Processor
	logger      types.Logger

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPurge time.Time
	owned     *pool.ScheduledExecutor
}

// NewThrottler creates a throttler. correlation and output may be nil.
func NewThrottler(maxRequests types.Expression, correlation types.Expression, output types.Processor, config Configuration, logger types.Logger) *Throttler {
	if config.TimePeriodMillis <= 0 {
		config.TimePeriodMillis = DefaultTimePeriodMillis
	}
	x := &Throttler{
		Configuration: config,
		maxRequests:   maxRequests,
		correlation:   correlation,
		output:        output,
		logger:        types.NewLogger(logger),
		buckets:       make(map[string]*bucket),
		lastPurge:     time.Now(),
	}
	x.DelayProcessorSupport.AsyncDelayed = config.AsyncDelayed
	x.DelayProcessorSupport.CallerRunsWhenRejected = config.CallerRunsWhenRejected
	return x
}

func (x *Throttler) Id() string {
	return x.id
}

func (x *Throttler) SetId(id string) {
	x.id = id
}

func (x *Throttler) Next() []types.Processor {
	if x.output == nil {
		return nil
	}
	return []types.Processor{x.output}
}

func (x *Throttler) period() time.Duration {
	return time.Duration(x.TimePeriodMillis) * time.Millisecond
}

func (x *Throttler) Process(exchange *types.Exchange) error {
	return types.Await(x, exchange)
}

func (x *Throttler) ProcessAsync(exchange *types.Exchange, callback types.AsyncCallback) bool {
	delay, err := x.reserve(exchange)
	if err != nil {
		exchange.SetErr(err)
		callback(true)
		return true
	}
	return x.ProcessDelayed(exchange, delay, x.output, callback)
}

// reserve takes a permit from the bucket of the exchange and returns how long to wait for it
func (x *Throttler) reserve(exchange *types.Exchange) (time.Duration, error) {
	v, err := x.maxRequests.Evaluate(exchange)
	if err != nil {
		return 0, types.NewExchangeError(exchange, err, "Error evaluating maximumRequestsPerPeriod")
	}
	max, err := cast.ToIntE(v)
	if err != nil || max <= 0 {
		return 0, types.NewExchangeError(exchange, err, "The maximumRequestsPerPeriod must be a positive number, was: %v", v)
	}
	key := defaultKey
	if x.correlation != nil {
		k, err := x.correlation.Evaluate(exchange)
		if err != nil {
			return 0, types.NewExchangeError(exchange, err, "Error evaluating throttle correlation expression")
		}
		if s := str.ToString(k); s != "" {
			key = s
		}
	}

	now := time.Now()
	slot, ok := x.acquire(key, max, now)
	if !ok {
		exchange.SetProperty(types.PropertyThrottlerRejected, true)
		return 0, &types.ThrottlerRejectedExecutionError{Max: max, Period: x.period()}
	}
	delay := slot.Sub(now)
	if delay > 0 {
		exchange.SetProperty(types.PropertyThrottled, true)
		types.LogAt(x.logger, "DEBUG", "throttler %s delays exchange %s by %s", x.id, exchange.Id(), delay)
	}
	return delay, nil
}

// acquire takes a permit from the bucket of key and returns when it may be used
func (x *Throttler) acquire(key string, max int, now time.Time) (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if now.Sub(x.lastPurge) > cleanPeriod {
		x.purge(now)
	}
	b, ok := x.buckets[key]
	if !ok {
		b = &bucket{grants: deque.New[time.Time](), max: max}
		x.buckets[key] = b
	} else if b.max != max {
		types.LogAt(x.logger, "DEBUG", "throttler %s changes maximum requests per period of %s from %d to %d", x.id, key, b.max, max)
		b.max = max
	}
	b.lastUsed = now
	return b.take(now, x.period(), x.RejectExecution)
}

// purge drops buckets unused for longer than cleanPeriod and with no permit in use
func (x *Throttler) purge(now time.Time) {
	x.lastPurge = now
	for k, b := range x.buckets {
		if now.Sub(b.lastUsed) > cleanPeriod && b.idle(now, x.period()) {
			delete(x.buckets, k)
		}
	}
}

// Buckets number of correlation groups being throttled
func (x *Throttler) Buckets() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.buckets)
}

func (x *Throttler) Start(ctx context.Context) error {
	if x.maxRequests == nil {
		return types.NewIllegalArgumentError("maximumRequestsPerPeriod is required")
	}
	if x.DelayProcessorSupport.AsyncDelayed && x.Scheduler == nil {
		x.owned = pool.NewScheduledExecutor("throttle-"+x.id, nil)
		x.Scheduler = x.owned
	}
	return nil
}

func (x *Throttler) Stop(ctx context.Context) error {
	if x.owned != nil {
		x.owned.Shutdown()
		x.Scheduler = nil
		x.owned = nil
	}
	x.mu.Lock()
	x.buckets = make(map[string]*bucket)
	x.mu.Unlock()
	return nil
}
