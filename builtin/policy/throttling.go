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

package policy

import (
	"sync"

	"github.com/rulego/routego/api/types"
)

const (
	// DefaultMaxInflightExchanges inflight exchanges above which a route is suspended
	DefaultMaxInflightExchanges = 1000
	// DefaultResumePercentOfMax percentage of the maximum at or below which it is resumed
	DefaultResumePercentOfMax = 70
)

var _ types.RoutePolicy = (*ThrottlingInflightRoutePolicy)(nil)

// ThrottlingInflightRoutePolicy suspends the consumer of a route while more
// than MaxInflightExchanges exchanges are inside it, and resumes it once the
// count drops to ResumePercentOfMax percent of the maximum. The route
// controller is called from a separate goroutine so exchanges never wait on
// the route lock.
//
// ThrottlingInflightRoutePolicy 按在途交换数量挂起和恢复路由
type ThrottlingInflightRoutePolicy struct {
	types.RoutePolicySupport
	MaxInflightExchanges int `json:"maxInflightExchanges" mapstructure:"maxInflightExchanges"`
	ResumePercentOfMax   int `json:"resumePercentOfMax" mapstructure:"resumePercentOfMax"`
	mu                   sync.Mutex
	suspended            map[string]bool
}

// NewThrottlingInflightRoutePolicy creates a policy with the default thresholds
func NewThrottlingInflightRoutePolicy() *ThrottlingInflightRoutePolicy {
	return &ThrottlingInflightRoutePolicy{
		MaxInflightExchanges: DefaultMaxInflightExchanges,
		ResumePercentOfMax:   DefaultResumePercentOfMax,
		suspended:            make(map[string]bool),
	}
}

func (x *ThrottlingInflightRoutePolicy) OnStart(route types.RouteInfo) {
	x.setSuspended(route.RouteId(), false)
}

func (x *ThrottlingInflightRoutePolicy) OnStop(route types.RouteInfo) {
	x.setSuspended(route.RouteId(), false)
}

func (x *ThrottlingInflightRoutePolicy) OnExchangeBegin(route types.RouteInfo, exchange *types.Exchange) {
	go x.throttle(route)
}

func (x *ThrottlingInflightRoutePolicy) OnExchangeDone(route types.RouteInfo, exchange *types.Exchange) {
	go x.throttle(route)
}

// resumeThreshold inflight count at or below which a suspended route resumes
func (x *ThrottlingInflightRoutePolicy) resumeThreshold() int {
	percent := x.ResumePercentOfMax
	if percent <= 0 || percent > 100 {
		percent = DefaultResumePercentOfMax
	}
	return x.MaxInflightExchanges * percent / 100
}

func (x *ThrottlingInflightRoutePolicy) throttle(route types.RouteInfo) {
	if x.MaxInflightExchanges <= 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.suspended == nil {
		x.suspended = make(map[string]bool)
	}
	routeId := route.RouteId()
	size := route.InflightCount()
	logger := route.Config().Logger
	if !x.suspended[routeId] && size > x.MaxInflightExchanges {
		types.LogAt(logger, "DEBUG", "%d > %d inflight exchanges, suspending route %s", size, x.MaxInflightExchanges, routeId)
		if err := route.Controller().SuspendRoute(routeId); err != nil {
			types.LogAt(logger, "DEBUG", "Cannot suspend route %s: %v", routeId, err)
			return
		}
		x.suspended[routeId] = true
	} else if x.suspended[routeId] && size <= x.resumeThreshold() {
		types.LogAt(logger, "DEBUG", "%d <= %d inflight exchanges, resuming route %s", size, x.resumeThreshold(), routeId)
		if err := route.Controller().ResumeRoute(routeId); err != nil {
			types.LogAt(logger, "DEBUG", "Cannot resume route %s: %v", routeId, err)
			return
		}
		x.suspended[routeId] = false
	}
}

// IsSuspended reports whether the policy suspended routeId
func (x *ThrottlingInflightRoutePolicy) IsSuspended(routeId string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.suspended[routeId]
}

func (x *ThrottlingInflightRoutePolicy) setSuspended(routeId string, suspended bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.suspended == nil {
		x.suspended = make(map[string]bool)
	}
	x.suspended[routeId] = suspended
}
