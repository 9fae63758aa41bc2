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

package resequencer

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

const (
	DefaultCapacity                = 1000
	DefaultStreamTimeout           = 1000
	DefaultDeliveryAttemptInterval = 1000
)

// StreamConfig stream resequencer configuration, times in milliseconds
type StreamConfig struct {
	Capacity                int   `json:"capacity" mapstructure:"capacity"`
	Timeout                 int64 `json:"timeout" mapstructure:"timeout"`
	DeliveryAttemptInterval int64 `json:"deliveryAttemptInterval" mapstructure:"deliveryAttemptInterval"`
	RejectOld               bool  `json:"rejectOld" mapstructure:"rejectOld"`
	IgnoreInvalidExchanges  bool  `json:"ignoreInvalidExchanges" mapstructure:"ignoreInvalidExchanges"`
}

// DefaultStreamConfig capacity 1000, one second timeout and delivery attempt interval
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Capacity:                DefaultCapacity,
		Timeout:                 DefaultStreamTimeout,
		DeliveryAttemptInterval: DefaultDeliveryAttemptInterval,
	}
}

var (
	_ types.Processor = (*StreamResequencer)(nil)
	_ types.Service   = (*StreamResequencer)(nil)
)

type streamElement struct {
	element
	deadline time.Time
}

// StreamResequencer delivers exchanges in sequence number order. An element
// is delivered once it directly follows the last delivered one, or when it
// has waited Timeout for its predecessors. When the buffer exceeds Capacity
// the lowest elements are delivered at once.
//
// StreamResequencer 流式重排序处理器
type StreamResequencer struct {
	StreamConfig

	id         string
	expression types.Expression
	comparator SequenceComparator
	output     types.Processor
	logger     types.Logger

	// deliverMu serializes deliveries, taken before mu
	deliverMu sync.Mutex
	mu        sync.Mutex
	buffer    *btree.BTreeG[*streamElement]
	last      interface{}
	delivered bool
	seq       uint64
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	running   bool
}

// NewStreamResequencer creates a stream resequencer. comparator defaults to integer sequence numbers.
func NewStreamResequencer(expression types.Expression, comparator SequenceComparator, output types.Processor, config StreamConfig, logger types.Logger) *StreamResequencer {
	defaults := DefaultStreamConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.DeliveryAttemptInterval <= 0 {
		config.DeliveryAttemptInterval = defaults.DeliveryAttemptInterval
	}
	if comparator == nil {
		comparator = DefaultSequenceComparator{}
	}
	logger = types.NewLogger(logger)
	x := &StreamResequencer{
		StreamConfig: config,
		expression:   expression,
		comparator:   comparator,
		output:       processor.NewUnitOfWorkProcessor(output, logger),
		logger:       logger,
		wake:         make(chan struct{}, 1),
	}
	x.buffer = btree.NewG(16, func(a, b *streamElement) bool {
		return comparator.Compare(a.value, b.value) < 0
	})
	return x
}

func (x *StreamResequencer) Id() string {
	return x.id
}

func (x *StreamResequencer) SetId(id string) {
	x.id = id
}

func (x *StreamResequencer) Next() []types.Processor {
	return []types.Processor{x.output}
}

func (x *StreamResequencer) fail(exchange *types.Exchange, err error) error {
	exchange.SetErr(err)
	return err
}

func (x *StreamResequencer) Process(exchange *types.Exchange) error {
	value, err := x.expression.Evaluate(exchange)
	if err == nil && !x.comparator.IsValid(value) {
		err = types.NewExchangeError(exchange, nil, "invalid sequence value %v", value)
	}
	if err != nil {
		if x.IgnoreInvalidExchanges {
			types.LogAt(x.logger, "DEBUG", "resequencer %s ignores invalid exchange %s", x.id, exchange.Id())
			return nil
		}
		return x.fail(exchange, err)
	}

	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return x.fail(exchange, types.NewIllegalStateError("resequencer %s is not started", x.id))
	}
	if x.RejectOld && x.delivered && x.comparator.Compare(value, x.last) < 0 {
		last := x.last
		x.mu.Unlock()
		return x.fail(exchange, types.NewExchangeError(exchange, ErrMessageRejected,
			"rejecting sequence %v, last delivered was %v", value, last))
	}
	x.seq++
	c := exchange.Copy()
	c.SetUnitOfWork(nil)
	e := &streamElement{
		element:  element{seq: x.seq, value: value, exchange: c},
		deadline: time.Now().Add(time.Duration(x.Timeout) * time.Millisecond),
	}
	if x.buffer.Has(e) {
		x.mu.Unlock()
		types.LogAt(x.logger, "DEBUG", "resequencer %s drops duplicate sequence %v", x.id, value)
		return nil
	}
	x.buffer.ReplaceOrInsert(e)
	overflow := x.buffer.Len() > x.Capacity
	x.mu.Unlock()

	if overflow {
		types.LogAt(x.logger, "DEBUG", "resequencer %s is at capacity %d, delivering the lowest sequence", x.id, x.Capacity)
		x.deliverOverflow()
	}
	x.signal(x.wake)
	time.AfterFunc(time.Duration(x.Timeout)*time.Millisecond, func() { x.signal(x.wake) })
	return nil
}

func (x *StreamResequencer) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Size number of buffered exchanges
func (x *StreamResequencer) Size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buffer.Len()
}

func (x *StreamResequencer) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.running {
		return nil
	}
	if x.expression == nil {
		return types.NewIllegalArgumentError("resequence expression is required")
	}
	x.running = true
	x.stop = make(chan struct{})
	x.done = make(chan struct{})
	go x.run(x.stop, x.done)
	return nil
}

// Stop delivers the buffered exchanges in order and stops the delivery goroutine
func (x *StreamResequencer) Stop(ctx context.Context) error {
	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return nil
	}
	x.running = false
	close(x.stop)
	done := x.done
	x.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *StreamResequencer) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Duration(x.DeliveryAttemptInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			for x.deliverNext(true) {
			}
			return
		case <-x.wake:
		case <-ticker.C:
		}
		for x.deliverNext(false) {
		}
	}
}

// deliverNext delivers the lowest element if it follows the last delivered
// one or has timed out. force delivers regardless.
func (x *StreamResequencer) deliverNext(force bool) bool {
	x.deliverMu.Lock()
	defer x.deliverMu.Unlock()
	now := time.Now()
	return x.deliverMin(func(first *streamElement) bool {
		return force ||
			(x.delivered && x.comparator.Successor(x.last, first.value)) ||
			!now.Before(first.deadline)
	})
}

// deliverOverflow delivers the lowest elements until the buffer is back within capacity
func (x *StreamResequencer) deliverOverflow() {
	x.deliverMu.Lock()
	defer x.deliverMu.Unlock()
	for x.deliverMin(func(*streamElement) bool { return x.buffer.Len() > x.Capacity }) {
	}
}

// deliverMin removes and delivers the lowest element when deliverable says
// so. deliverable runs under mu, the caller holds deliverMu.
func (x *StreamResequencer) deliverMin(deliverable func(first *streamElement) bool) bool {
	x.mu.Lock()
	first, ok := x.buffer.Min()
	if !ok || !deliverable(first) {
		x.mu.Unlock()
		return false
	}
	x.buffer.Delete(first)
	x.last = first.value
	x.delivered = true
	x.mu.Unlock()

	if err := types.Run(x.output, first.exchange); err != nil {
		types.LogAt(x.logger, "WARN", "resequencer %s failed to deliver exchange %s: %v", x.id, first.exchange.Id(), err)
	}
	return true
}
