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
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

// Load balancing strategies
const (
	RoundRobinLoadBalancer = "roundRobin"
	RandomLoadBalancer     = "random"
	WeightedLoadBalancer   = "weighted"
	StickyLoadBalancer     = "sticky"
	FailoverLoadBalancer   = "failover"
	TopicLoadBalancer      = "topic"
)

var (
	_ types.Processor = (*LoadBalanceProcessor)(nil)
	_ types.Navigate  = (*LoadBalanceProcessor)(nil)
)

// LoadBalanceOptions loadBalance node options
type LoadBalanceOptions struct {
	// Strategy roundRobin, random, weighted, sticky, failover or topic
	Strategy string `mapstructure:"strategy"`
	// DistributionRatio weights of the processors for weighted, e.g. 4,2,1
	DistributionRatio string `mapstructure:"distributionRatio"`
	// DistributionRatioDelimiter 权重分隔符，默认逗号
	DistributionRatioDelimiter string `mapstructure:"distributionRatioDelimiter"`
	// RoundRobin weighted picks in turn instead of randomly, failover starts at the next processor
	RoundRobin bool `mapstructure:"roundRobin"`
	// MaximumFailoverAttempts -1 fails over without limit, 0 never
	MaximumFailoverAttempts int `mapstructure:"maximumFailoverAttempts"`
	// Exceptions error type names that trigger a failover, empty means every error
	Exceptions []string `mapstructure:"exceptions"`
}

// DefaultLoadBalanceOptions 默认参数
func DefaultLoadBalanceOptions() LoadBalanceOptions {
	return LoadBalanceOptions{
		Strategy:                   RoundRobinLoadBalancer,
		DistributionRatioDelimiter: ",",
		MaximumFailoverAttempts:    -1,
	}
}

// LoadBalanceProcessor sends each exchange to one of its processors, picked
// by the strategy. failover tries the next processor when one fails and topic
// sends a copy to all of them.
// LoadBalanceProcessor 负载均衡
type LoadBalanceProcessor struct {
	processors []types.Processor
	options    LoadBalanceOptions
	// correlation key of the sticky strategy
	correlation types.Expression
	// ErrorTypes resolves the failover exception names
	ErrorTypes *types.ErrorTypeRegistry
	counter    uint64
	schedule   []int
	weights    []int
	total      int
}

func NewLoadBalanceProcessor(processors []types.Processor, correlation types.Expression, options LoadBalanceOptions) (*LoadBalanceProcessor, error) {
	if len(processors) == 0 {
		return nil, types.NewIllegalArgumentError("load balancer has no processors")
	}
	if options.Strategy == "" {
		options.Strategy = RoundRobinLoadBalancer
	}
	x := &LoadBalanceProcessor{
		processors:  processors,
		options:     options,
		correlation: correlation,
		ErrorTypes:  types.NewErrorTypeRegistry(),
	}
	switch options.Strategy {
	case RoundRobinLoadBalancer, RandomLoadBalancer, FailoverLoadBalancer, TopicLoadBalancer:
	case StickyLoadBalancer:
		if correlation == nil {
			return nil, types.NewIllegalArgumentError("sticky load balancer requires a correlation expression")
		}
	case WeightedLoadBalancer:
		if err := x.parseWeights(); err != nil {
			return nil, err
		}
	default:
		return nil, types.NewIllegalArgumentError("unknown load balancer %s", options.Strategy)
	}
	return x, nil
}

func (x *LoadBalanceProcessor) parseWeights() error {
	delimiter := x.options.DistributionRatioDelimiter
	if delimiter == "" {
		delimiter = ","
	}
	items := str.SplitAndTrim(x.options.DistributionRatio, delimiter)
	if len(items) != len(x.processors) {
		return types.NewIllegalArgumentError("distributionRatio %q must have one weight per processor, %d processors",
			x.options.DistributionRatio, len(x.processors))
	}
	most := 0
	for _, item := range items {
		w, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || w < 0 {
			return types.NewIllegalArgumentError("invalid weight %q in distributionRatio", item)
		}
		x.weights = append(x.weights, w)
		x.total += w
		if w > most {
			most = w
		}
	}
	if x.total == 0 {
		return types.NewIllegalArgumentError("distributionRatio %q has no positive weight", x.options.DistributionRatio)
	}
	// interleaved: 4,2,1 gives 0 1 2 0 1 0 0
	for round := 0; round < most; round++ {
		for i, w := range x.weights {
			if w > round {
				x.schedule = append(x.schedule, i)
			}
		}
	}
	return nil
}

func (x *LoadBalanceProcessor) next() int {
	return int((atomic.AddUint64(&x.counter, 1) - 1) % uint64(len(x.processors)))
}

// choose index of the processor for the exchange
func (x *LoadBalanceProcessor) choose(exchange *types.Exchange) (int, error) {
	switch x.options.Strategy {
	case RandomLoadBalancer:
		return rand.Intn(len(x.processors)), nil
	case WeightedLoadBalancer:
		if x.options.RoundRobin {
			n := atomic.AddUint64(&x.counter, 1) - 1
			return x.schedule[n%uint64(len(x.schedule))], nil
		}
		r := rand.Intn(x.total)
		for i, w := range x.weights {
			if r < w {
				return i, nil
			}
			r -= w
		}
		return len(x.weights) - 1, nil
	case StickyLoadBalancer:
		key, err := x.correlation.Evaluate(exchange)
		if err != nil {
			return 0, err
		}
		return int(xxhash.Sum64String(str.ToString(key)) % uint64(len(x.processors))), nil
	default:
		return x.next(), nil
	}
}

func (x *LoadBalanceProcessor) Process(exchange *types.Exchange) error {
	switch x.options.Strategy {
	case FailoverLoadBalancer:
		return x.failover(exchange)
	case TopicLoadBalancer:
		return x.topic(exchange)
	}
	i, err := x.choose(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetProperty(types.PropertyLoadBalancerIndex, i)
	return types.Run(x.processors[i], exchange)
}

// failover tries the processors in order, starting over with the original
// message after each failure matching the exceptions
func (x *LoadBalanceProcessor) failover(exchange *types.Exchange) error {
	n := len(x.processors)
	i := 0
	if x.options.RoundRobin {
		i = x.next()
	}
	original := exchange.Copy()
	for attempt := 0; ; attempt++ {
		exchange.SetProperty(types.PropertyLoadBalancerIndex, i)
		err := types.Run(x.processors[i], exchange)
		if err == nil || !x.failoverOn(err) {
			return err
		}
		if x.options.MaximumFailoverAttempts >= 0 && attempt >= x.options.MaximumFailoverAttempts {
			return err
		}
		i++
		if i == n {
			if !x.options.RoundRobin {
				return err
			}
			i = 0
		}
		if exchange.Context().Err() != nil {
			return err
		}
		exchange.CopyResultsFrom(original)
	}
}

func (x *LoadBalanceProcessor) failoverOn(err error) bool {
	if len(x.options.Exceptions) == 0 {
		return true
	}
	for _, e := range types.Chain(err) {
		for _, name := range x.options.Exceptions {
			if x.ErrorTypes.Matches(name, e) {
				return true
			}
		}
	}
	return false
}

// topic sends a copy to every processor, stopping at the first failure
func (x *LoadBalanceProcessor) topic(exchange *types.Exchange) error {
	for i, p := range x.processors {
		c := exchange.Copy()
		c.SetProperty(types.PropertyLoadBalancerIndex, i)
		if err := types.Run(p, c); err != nil {
			exchange.SetErr(err)
			return err
		}
	}
	return nil
}

// Strategy name of the strategy
func (x *LoadBalanceProcessor) Strategy() string {
	return x.options.Strategy
}

func (x *LoadBalanceProcessor) Next() []types.Processor {
	return x.processors
}
