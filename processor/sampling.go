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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rulego/routego/api/types"
)

// SamplingProcessor lets one exchange through per sample period, or one in
// every MessageFrequency exchanges. Others stop routing.
// SamplingProcessor 采样处理器，每个周期或每N条消息放行一条，其他交换停止路由
type SamplingProcessor struct {
	period           time.Duration
	messageFrequency int64
	count            int64
	limiter          *rate.Limiter
	dropped          int64
}

// NewSamplingProcessor messageFrequency takes precedence when positive
func NewSamplingProcessor(period time.Duration, messageFrequency int64) *SamplingProcessor {
	if period <= 0 && messageFrequency <= 0 {
		period = time.Second
	}
	x := &SamplingProcessor{period: period, messageFrequency: messageFrequency}
	if messageFrequency <= 0 {
		// a single token refilled once per period
		x.limiter = rate.NewLimiter(rate.Every(period), 1)
	}
	return x
}

func (x *SamplingProcessor) Process(exchange *types.Exchange) error {
	if !x.allow() {
		atomic.AddInt64(&x.dropped, 1)
		exchange.SetRouteStop(true)
	}
	return nil
}

func (x *SamplingProcessor) allow() bool {
	if x.messageFrequency > 0 {
		n := atomic.AddInt64(&x.count, 1)
		return n%x.messageFrequency == 0
	}
	return x.limiter.Allow()
}

// Dropped number of exchanges not sampled
func (x *SamplingProcessor) Dropped() int64 {
	return atomic.LoadInt64(&x.dropped)
}
