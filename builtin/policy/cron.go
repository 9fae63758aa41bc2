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

// Package policy built-in route policies. Bind them in the bean registry and
// reference them with routePolicyRef.
//
// Package policy 内置路由策略
package policy

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/maps"
)

var _ types.RoutePolicy = (*CronRoutePolicy)(nil)

// cronParser accepts six fields with seconds and the @ descriptors
//
//	Field name   | Mandatory? | Allowed values  | Allowed special characters
//	----------   | ---------- | --------------  | --------------------------
//	Seconds      | Yes        | 0-59            | * / , -
//	Minutes      | Yes        | 0-59            | * / , -
//	Hours        | Yes        | 0-23            | * / , -
//	Day of month | Yes        | 1-31            | * / , - ?
//	Month        | Yes        | 1-12 or JAN-DEC | * / , -
//	Day of week  | Yes        | 0-6 or SUN-SAT  | * / , - ?
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronConfig cron expressions of the route actions, empty means never
type CronConfig struct {
	RouteStartTime   string `json:"routeStartTime" mapstructure:"routeStartTime"`
	RouteStopTime    string `json:"routeStopTime" mapstructure:"routeStopTime"`
	RouteSuspendTime string `json:"routeSuspendTime" mapstructure:"routeSuspendTime"`
	RouteResumeTime  string `json:"routeResumeTime" mapstructure:"routeResumeTime"`
}

type cronAction struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context, controller types.RouteController, routeId string) error
}

// CronRoutePolicy starts, stops, suspends and resumes the routes it is
// attached to on cron schedules. A route is scheduled once per id, routes
// recreated by a restart keep their jobs.
//
// CronRoutePolicy 定时启停路由策略
//
// Usage:
// 使用方法：
//
//	// run the route during office hours only
//	policy, err := NewCronRoutePolicy(CronConfig{RouteStartTime: "0 0 8 * * MON-FRI", RouteStopTime: "0 0 18 * * MON-FRI"})
//	engine.Registry().Bind("officeHours", policy)
//	builder.NewRoute("direct:orders").AutoStartup(false).RoutePolicy("officeHours")
type CronRoutePolicy struct {
	types.RoutePolicySupport
	Config    CronConfig
	actions   []cronAction
	cron      *cron.Cron
	mu        sync.Mutex
	scheduled map[string][]cron.EntryID
	started   bool
}

// NewCronRoutePolicy parses the expressions of config
func NewCronRoutePolicy(config CronConfig) (*CronRoutePolicy, error) {
	x := &CronRoutePolicy{
		Config:    config,
		cron:      cron.New(cron.WithParser(cronParser)),
		scheduled: make(map[string][]cron.EntryID),
	}
	for _, action := range []struct {
		name string
		expr string
		run  func(ctx context.Context, controller types.RouteController, routeId string) error
	}{
		{"start", config.RouteStartTime, func(ctx context.Context, c types.RouteController, id string) error { return c.StartRoute(ctx, id) }},
		{"stop", config.RouteStopTime, func(ctx context.Context, c types.RouteController, id string) error { return c.StopRoute(ctx, id) }},
		{"suspend", config.RouteSuspendTime, func(ctx context.Context, c types.RouteController, id string) error { return c.SuspendRoute(id) }},
		{"resume", config.RouteResumeTime, func(ctx context.Context, c types.RouteController, id string) error { return c.ResumeRoute(id) }},
	} {
		if action.expr == "" {
			continue
		}
		schedule, err := cronParser.Parse(action.expr)
		if err != nil {
			return nil, types.NewIllegalArgumentError("invalid route %s time %q: %v", action.name, action.expr, err)
		}
		x.actions = append(x.actions, cronAction{name: action.name, schedule: schedule, run: action.run})
	}
	if len(x.actions) == 0 {
		return nil, types.NewIllegalArgumentError("a scheduled route policy needs at least one of routeStartTime, routeStopTime, routeSuspendTime, routeResumeTime")
	}
	return x, nil
}

// NewCronRoutePolicyFromMap decodes config as CronConfig
func NewCronRoutePolicyFromMap(config map[string]interface{}) (*CronRoutePolicy, error) {
	var c CronConfig
	if err := maps.Map2Struct(config, &c); err != nil {
		return nil, err
	}
	return NewCronRoutePolicy(c)
}

// OnInit schedules the actions for the route and starts the scheduler
func (x *CronRoutePolicy) OnInit(route types.RouteInfo) {
	x.mu.Lock()
	defer x.mu.Unlock()
	routeId := route.RouteId()
	if _, ok := x.scheduled[routeId]; ok {
		return
	}
	controller := route.Controller()
	logger := route.Config().Logger
	var ids []cron.EntryID
	for _, action := range x.actions {
		action := action
		ids = append(ids, x.cron.Schedule(action.schedule, cron.FuncJob(func() {
			types.LogAt(logger, "DEBUG", "Scheduled %s of route %s", action.name, routeId)
			if err := action.run(context.Background(), controller, routeId); err != nil {
				types.LogAt(logger, "WARN", "Scheduled %s of route %s failed: %v", action.name, routeId, err)
			}
		})))
	}
	x.scheduled[routeId] = ids
	if !x.started {
		x.cron.Start()
		x.started = true
	}
}

// Unschedule removes the jobs of routeId
func (x *CronRoutePolicy) Unschedule(routeId string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range x.scheduled[routeId] {
		x.cron.Remove(id)
	}
	delete(x.scheduled, routeId)
}

// Scheduled ids of the routes with jobs
func (x *CronRoutePolicy) Scheduled() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]string, 0, len(x.scheduled))
	for id := range x.scheduled {
		ids = append(ids, id)
	}
	return ids
}

// Stop stops the scheduler and waits for running jobs
func (x *CronRoutePolicy) Stop(ctx context.Context) error {
	x.mu.Lock()
	if !x.started {
		x.mu.Unlock()
		return nil
	}
	x.started = false
	done := x.cron.Stop()
	x.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
