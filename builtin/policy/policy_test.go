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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builder"
	"github.com/rulego/routego/engine"
	"github.com/rulego/routego/test"
)

func startEngine(t *testing.T) *engine.RouteEngine {
	e := engine.New()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func routeStatus(e *engine.RouteEngine, id string) engine.RouteStatus {
	route, ok := e.Route(id)
	if !ok {
		return engine.RouteStopped
	}
	return route.Status()
}

func TestNewCronRoutePolicy(t *testing.T) {
	_, err := NewCronRoutePolicy(CronConfig{})
	assert.True(t, types.IsIllegalArgument(err))

	_, err = NewCronRoutePolicy(CronConfig{RouteStartTime: "not a cron"})
	assert.True(t, types.IsIllegalArgument(err))

	// six fields, seconds first
	_, err = NewCronRoutePolicy(CronConfig{RouteStopTime: "0 0 18 * *"})
	assert.True(t, types.IsIllegalArgument(err))

	x, err := NewCronRoutePolicyFromMap(map[string]interface{}{
		"routeStartTime": "0 0 8 * * MON-FRI",
		"routeStopTime":  "@daily",
	})
	require.NoError(t, err)
	assert.Equal(t, "0 0 8 * * MON-FRI", x.Config.RouteStartTime)
	assert.Len(t, x.actions, 2)
}

func TestCronStartRoute(t *testing.T) {
	e := startEngine(t)
	x, err := NewCronRoutePolicy(CronConfig{RouteStartTime: "* * * * * *"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Stop(context.Background()) })
	e.Registry().Bind("scheduled", x)

	def, err := builder.NewRoute("direct:cron").RouteId("cron").AutoStartup(false).RoutePolicy("scheduled").To("mock:cron").Build()
	require.NoError(t, err)
	_, err = e.AddRoute(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, engine.RouteStopped, routeStatus(e, "cron"))
	assert.Equal(t, []string{"cron"}, x.Scheduled())

	assert.True(t, test.WaitFor(3*time.Second, func() bool {
		return routeStatus(e, "cron") == engine.RouteStarted
	}))
	// the recompiled route is not scheduled twice
	assert.Equal(t, []string{"cron"}, x.Scheduled())
}

func TestCronStopRoute(t *testing.T) {
	e := startEngine(t)
	x, err := NewCronRoutePolicy(CronConfig{RouteStopTime: "* * * * * *"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Stop(context.Background()) })
	e.Registry().Bind("scheduled", x)

	def, err := builder.NewRoute("direct:cron").RouteId("cron").RoutePolicy("scheduled").To("mock:cron").Build()
	require.NoError(t, err)
	_, err = e.AddRoute(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, engine.RouteStarted, routeStatus(e, "cron"))

	assert.True(t, test.WaitFor(3*time.Second, func() bool {
		return routeStatus(e, "cron") == engine.RouteStopped
	}))

	x.Unschedule("cron")
	assert.Empty(t, x.Scheduled())
	require.NoError(t, x.Stop(context.Background()))
}

// blocker holds every exchange until released
type blocker struct {
	release chan struct{}
}

func (x *blocker) Process(exchange *types.Exchange) error {
	<-x.release
	return nil
}

func TestThrottlingInflightRoutePolicy(t *testing.T) {
	e := startEngine(t)
	x := NewThrottlingInflightRoutePolicy()
	x.MaxInflightExchanges = 2
	x.ResumePercentOfMax = 50
	b := &blocker{release: make(chan struct{})}
	e.Registry().Bind("throttle", x)
	e.Registry().Bind("block", b)

	def, err := builder.NewRoute("direct:slow").RouteId("slow").RoutePolicy("throttle").Process("block").Build()
	require.NoError(t, err)
	_, err = e.AddRoute(context.Background(), def)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Send(context.Background(), "direct:slow", test.NewExchange("x", nil))
		}()
	}
	assert.True(t, test.WaitFor(test.DefaultTimeout, func() bool {
		return routeStatus(e, "slow") == engine.RouteSuspended
	}))
	assert.True(t, x.IsSuspended("slow"))

	close(b.release)
	wg.Wait()
	assert.True(t, test.WaitFor(test.DefaultTimeout, func() bool {
		return routeStatus(e, "slow") == engine.RouteStarted
	}))
	assert.True(t, test.WaitFor(test.DefaultTimeout, func() bool {
		return !x.IsSuspended("slow")
	}))
}

func TestResumeThreshold(t *testing.T) {
	x := NewThrottlingInflightRoutePolicy()
	assert.Equal(t, 700, x.resumeThreshold())
	x.MaxInflightExchanges = 10
	x.ResumePercentOfMax = 0
	assert.Equal(t, 7, x.resumeThreshold())
	x.ResumePercentOfMax = 30
	assert.Equal(t, 3, x.resumeThreshold())
}
