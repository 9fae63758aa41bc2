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

package interceptor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rulego/routego/api/types"
)

var _ types.InterceptStrategy = (*Metrics)(nil)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStopped = "stopped"
)

// Metrics exports per node prometheus metrics
// Metrics 节点指标拦截器
type Metrics struct {
	mu sync.Mutex

	exchangesTotal *prometheus.CounterVec
	inflight       *prometheus.GaugeVec
	duration       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors; nil registerer means prometheus.DefaultRegisterer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := []string{"route", "node"}
	return &Metrics{
		registerer: registerer,
		exchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routego",
			Subsystem: "node",
			Name:      "exchanges_total",
			Help:      "Exchanges processed by a node",
		}, []string{"route", "node", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "routego",
			Subsystem: "node",
			Name:      "exchanges_inflight",
			Help:      "Exchanges currently inside a node",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "routego",
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Time spent inside a node",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (i *Metrics) Register() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{i.exchangesTotal, i.inflight, i.duration} {
		if err := i.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	i.registered = true
	return nil
}

func (i *Metrics) Order() int {
	return 20
}

func (i *Metrics) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	if err := i.Register(); err != nil {
		return nil, err
	}
	routeId, nodeId := ctx.RouteId, ctx.Node.Id
	inflight := i.inflight.WithLabelValues(routeId, nodeId)
	duration := i.duration.WithLabelValues(routeId, nodeId)
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		inflight.Inc()
		start := time.Now()
		err := types.Run(target, exchange)
		duration.Observe(time.Since(start).Seconds())
		inflight.Dec()

		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeFailure
		} else if exchange.IsRouteStop() {
			outcome = OutcomeStopped
		}
		i.exchangesTotal.WithLabelValues(routeId, nodeId, outcome).Inc()
		return err
	}), nil
}
