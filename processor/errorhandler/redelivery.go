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

// Package errorhandler provides the route error handlers: redelivery, dead
// letter channel and the onException policies they consult.
//
// Package errorhandler 路由错误处理器：重试、死信通道以及 onException 策略匹配。
package errorhandler

import (
	"math"
	"math/rand"
	"time"

	"github.com/rulego/routego/api/types"
)

// RedeliveryPolicy how often and how fast a failed exchange is redelivered
// RedeliveryPolicy 重试策略
type RedeliveryPolicy struct {
	// MaximumRedeliveries 0 disables redelivery, negative redelivers forever
	MaximumRedeliveries    int
	RedeliveryDelay        time.Duration
	MaximumRedeliveryDelay time.Duration
	BackOffMultiplier      float64
	UseExponentialBackOff  bool
	UseCollisionAvoidance  bool
	// CollisionAvoidanceFactor spread of the randomized delay, default 0.15
	CollisionAvoidanceFactor float64
	LogRetryAttempted        bool
	LogExhausted             bool
	// RetryAttemptedLogLevel level of the retry log, default DEBUG
	RetryAttemptedLogLevel string
}

// DefaultRedeliveryPolicy no redelivery, 1s delay, doubling backoff capped at 60s when enabled
func DefaultRedeliveryPolicy() *RedeliveryPolicy {
	return &RedeliveryPolicy{
		MaximumRedeliveries:      0,
		RedeliveryDelay:          types.DefaultRedeliveryDelay * time.Millisecond,
		MaximumRedeliveryDelay:   types.DefaultMaximumRedeliveryDelay * time.Millisecond,
		BackOffMultiplier:        2,
		CollisionAvoidanceFactor: 0.15,
		LogExhausted:             true,
		RetryAttemptedLogLevel:   "DEBUG",
	}
}

// NewRedeliveryPolicy applies def on top of defaults. Zero delays keep the
// defaults, negative delays mean no delay.
func NewRedeliveryPolicy(def *types.RedeliveryPolicyDefinition, defaults *RedeliveryPolicy) *RedeliveryPolicy {
	if defaults == nil {
		defaults = DefaultRedeliveryPolicy()
	}
	p := *defaults
	if def == nil {
		return &p
	}
	p.MaximumRedeliveries = def.MaximumRedeliveries
	if def.RedeliveryDelay > 0 {
		p.RedeliveryDelay = time.Duration(def.RedeliveryDelay) * time.Millisecond
	} else if def.RedeliveryDelay < 0 {
		p.RedeliveryDelay = 0
	}
	if def.MaximumRedeliveryDelay > 0 {
		p.MaximumRedeliveryDelay = time.Duration(def.MaximumRedeliveryDelay) * time.Millisecond
	}
	if def.BackOffMultiplier > 1 {
		p.BackOffMultiplier = def.BackOffMultiplier
	}
	p.UseExponentialBackOff = def.UseExponentialBackOff
	p.UseCollisionAvoidance = def.UseCollisionAvoidance
	p.LogRetryAttempted = def.LogRetryAttempted
	if def.LogExhausted != nil {
		p.LogExhausted = *def.LogExhausted
	}
	return &p
}

// ShouldRedeliver reports whether redelivery attempt counter (1 based) is allowed
func (p *RedeliveryPolicy) ShouldRedeliver(counter int) bool {
	if p.MaximumRedeliveries < 0 {
		return true
	}
	return counter <= p.MaximumRedeliveries
}

// Delay the wait before redelivery attempt counter (1 based)
func (p *RedeliveryPolicy) Delay(counter int) time.Duration {
	delay := float64(p.RedeliveryDelay)
	if p.UseExponentialBackOff && counter > 1 {
		delay *= math.Pow(p.BackOffMultiplier, float64(counter-1))
	}
	if p.UseCollisionAvoidance && p.CollisionAvoidanceFactor > 0 {
		variance := (rand.Float64()*2 - 1) * p.CollisionAvoidanceFactor
		delay += delay * variance
	}
	if p.MaximumRedeliveryDelay > 0 && delay > float64(p.MaximumRedeliveryDelay) {
		delay = float64(p.MaximumRedeliveryDelay)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
