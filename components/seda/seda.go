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

// Package seda provides the seda: endpoint, an asynchronous in-process queue.
// Exchanges are published on a watermill go channel and processed by the
// consumers' own goroutines.
//
// Uri format: seda:name[?concurrentConsumers=1&waitForTaskToComplete=IfReplyExpected&timeout=30000]
//
// Package seda 异步进程内队列端点，基于 watermill gochannel
package seda

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/base"
)

// Scheme uri scheme
const Scheme = "seda"

const (
	// WaitNever the producer returns once the exchange is queued
	WaitNever = "Never"
	// WaitAlways the producer waits for the consumer to finish
	WaitAlways = "Always"
	// WaitIfReplyExpected waits only for InOut exchanges
	WaitIfReplyExpected = "IfReplyExpected"
)

var (
	// ErrNoConsumers no consumer is subscribed to the queue
	ErrNoConsumers = errors.New("no consumers available on queue")
	// ErrQueueClosed the component was stopped
	ErrQueueClosed = errors.New("queue is closed")
)

// Config endpoint parameters
type Config struct {
	// ConcurrentConsumers goroutines processing the exchanges of one consumer
	ConcurrentConsumers int
	// Size buffer of each consumer subscription, 0 uses the default
	Size int64
	// WaitForTaskToComplete Never, Always or IfReplyExpected
	WaitForTaskToComplete string
	// Timeout how long a waiting producer waits, in milliseconds. 0 waits forever
	Timeout int64
	// MultipleConsumers allows more than one consumer on the queue, each receiving every exchange
	MultipleConsumers bool
	// DiscardIfNoConsumers drops exchanges sent while no consumer is started, instead of failing
	DiscardIfNoConsumers bool
	// BlockWhenFull the producer blocks until every consumer accepted the exchange
	BlockWhenFull bool
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		ConcurrentConsumers:   1,
		Size:                  1000,
		WaitForTaskToComplete: WaitIfReplyExpected,
		Timeout:               30000,
	}
}

type exchangeKey struct{}

// pending an exchange travelling through the queue
type pending struct {
	exchange *types.Exchange
	wait     bool
	// remaining consumers yet to process it
	remaining int32
	mu        sync.Mutex
	result    *types.Exchange
	done      chan struct{}
}

func (p *pending) finish(result *types.Exchange) {
	if !p.wait {
		return
	}
	p.mu.Lock()
	if p.result == nil || result.IsFailed() {
		p.result = result
	}
	p.mu.Unlock()
	if atomic.AddInt32(&p.remaining, -1) == 0 {
		close(p.done)
	}
}

// Component owns the queues, one watermill go channel per queue name.
// The first endpoint touching a queue decides its size and blocking mode.
type Component struct {
	mu        sync.Mutex
	pubSubs   map[string]*gochannel.GoChannel
	consumers map[string][]*Consumer
	logger    watermill.LoggerAdapter
	closed    bool
}

// New creates a seda component
func New() *Component {
	return &Component{
		pubSubs:   make(map[string]*gochannel.GoChannel),
		consumers: make(map[string][]*Consumer),
		logger:    watermill.NopLogger{},
	}
}

// SetLogger watermill logger used by the queues
func (c *Component) SetLogger(logger watermill.LoggerAdapter) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Component) Scheme() string {
	return Scheme
}

func (c *Component) CreateEndpoint(ctx types.EngineContext, uri string, remaining string, params map[string]string) (types.Endpoint, error) {
	if remaining == "" {
		return nil, types.NewIllegalArgumentError("seda endpoint %s has no name", uri)
	}
	config := DefaultConfig()
	if err := base.DecodeParams(uri, params, &config); err != nil {
		return nil, err
	}
	switch config.WaitForTaskToComplete {
	case WaitNever, WaitAlways, WaitIfReplyExpected:
	default:
		return nil, types.NewIllegalArgumentError("invalid waitForTaskToComplete %s of endpoint %s", config.WaitForTaskToComplete, uri)
	}
	if config.ConcurrentConsumers <= 0 {
		config.ConcurrentConsumers = 1
	}
	return &Endpoint{
		DefaultEndpoint: base.NewDefaultEndpoint(ctx, uri, remaining),
		Config:          config,
		component:       c,
	}, nil
}

func (c *Component) pubSub(name string, config Config) (*gochannel.GoChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrQueueClosed
	}
	ps, ok := c.pubSubs[name]
	if !ok {
		ps = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            config.Size,
			BlockPublishUntilSubscriberAck: config.BlockWhenFull,
			PreserveContext:                true,
		}, c.logger)
		c.pubSubs[name] = ps
	}
	return ps, nil
}

func (c *Component) addConsumer(name string, consumer *Consumer, multiple bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing := c.consumers[name]
	if len(existing) > 0 && !multiple {
		return types.NewIllegalStateError("a consumer is already started on seda:%s, set multipleConsumers=true", name)
	}
	c.consumers[name] = append(existing, consumer)
	return nil
}

func (c *Component) removeConsumer(name string, consumer *Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.consumers[name]
	for i, item := range list {
		if item == consumer {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.consumers, name)
	} else {
		c.consumers[name] = list
	}
}

// ConsumerCount number of consumers started on the queue
func (c *Component) ConsumerCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers[name])
}

// Start implements types.Service
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	return nil
}

// Stop closes every queue. Exchanges still queued are dropped.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	pubSubs := c.pubSubs
	c.pubSubs = make(map[string]*gochannel.GoChannel)
	c.closed = true
	c.mu.Unlock()
	var first error
	for _, ps := range pubSubs {
		if err := ps.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Endpoint seda:name
type Endpoint struct {
	base.DefaultEndpoint
	Config    Config
	component *Component
}

func (e *Endpoint) CreateProducer() (types.Producer, error) {
	return &Producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor types.Processor) (types.Consumer, error) {
	if processor == nil {
		return nil, types.NewIllegalArgumentError("consumer of %s has no processor", e.Uri())
	}
	return &Consumer{endpoint: e, processor: processor}, nil
}

// Producer publishes exchanges on the queue
type Producer struct {
	endpoint *Endpoint
}

func (p *Producer) Endpoint() types.Endpoint {
	return p.endpoint
}

func (p *Producer) Start(ctx context.Context) error {
	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	return nil
}

func (p *Producer) Process(exchange *types.Exchange) error {
	e := p.endpoint
	consumers := e.component.ConsumerCount(e.Name)
	if consumers == 0 {
		if e.Config.DiscardIfNoConsumers {
			types.LogAt(e.Logger(), "WARN", "discarding exchange %s, no consumers on %s", exchange.Id(), e.Uri())
			return nil
		}
		return types.NewExchangeError(exchange, ErrNoConsumers, "%s", e.Uri())
	}
	ps, err := e.component.pubSub(e.Name, e.Config)
	if err != nil {
		return types.NewExchangeError(exchange, err, "%s", e.Uri())
	}
	wait := e.Config.WaitForTaskToComplete == WaitAlways ||
		(e.Config.WaitForTaskToComplete == WaitIfReplyExpected && exchange.Pattern == types.InOut)

	queued := exchange.Copy()
	if !wait {
		queued.SetContext(context.WithoutCancel(exchange.Context()))
	}
	item := &pending{exchange: queued, wait: wait, remaining: int32(consumers), done: make(chan struct{})}

	msg := message.NewMessage(watermill.NewUUID(), message.Payload(exchange.Id()))
	msg.SetContext(context.WithValue(context.Background(), exchangeKey{}, item))
	if err := ps.Publish(e.Name, msg); err != nil {
		return types.NewExchangeError(exchange, err, "publishing to %s", e.Uri())
	}
	if !wait {
		return nil
	}

	var timeout <-chan time.Time
	if e.Config.Timeout > 0 {
		timer := time.NewTimer(time.Duration(e.Config.Timeout) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-item.done:
		item.mu.Lock()
		result := item.result
		item.mu.Unlock()
		exchange.CopyResultsFrom(result)
		return exchange.Err()
	case <-timeout:
		return &types.ExchangeTimedOutError{ExchangeId: exchange.Id(), Timeout: time.Duration(e.Config.Timeout) * time.Millisecond}
	case <-exchange.Context().Done():
		return exchange.Context().Err()
	}
}

// Consumer subscribes to the queue and processes its exchanges with
// ConcurrentConsumers goroutines.
type Consumer struct {
	base.GracefulShutdown
	endpoint  *Endpoint
	processor types.Processor
	suspended int32
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	// resumed is closed while the consumer is not suspended
	mu      sync.Mutex
	resumed chan struct{}
}

func (c *Consumer) Endpoint() types.Endpoint {
	return c.endpoint
}

func (c *Consumer) Start(ctx context.Context) error {
	e := c.endpoint
	ps, err := e.component.pubSub(e.Name, e.Config)
	if err != nil {
		return err
	}
	var timeout time.Duration
	if e.Ctx != nil {
		timeout = e.Ctx.Config().ShutdownTimeout
	}
	c.InitGracefulShutdown(e.Logger(), timeout)
	c.mu.Lock()
	c.resumed = make(chan struct{})
	if !c.IsSuspended() {
		close(c.resumed)
	}
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := ps.Subscribe(subCtx, e.Name)
	if err != nil {
		cancel()
		return err
	}
	if err := e.component.addConsumer(e.Name, c, e.Config.MultipleConsumers); err != nil {
		cancel()
		return err
	}
	c.cancel = cancel

	work := make(chan *message.Message)
	for i := 0; i < e.Config.ConcurrentConsumers; i++ {
		c.wg.Add(1)
		go c.worker(work)
	}
	c.wg.Add(1)
	go c.dispatch(subCtx, messages, work)
	return nil
}

// dispatch hands messages over to the workers, acknowledging each once a worker took it
func (c *Consumer) dispatch(ctx context.Context, messages <-chan *message.Message, work chan<- *message.Message) {
	defer c.wg.Done()
	defer close(work)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if !c.awaitResumed(ctx) {
				msg.Nack()
				return
			}
			select {
			case work <- msg:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

func (c *Consumer) awaitResumed(ctx context.Context) bool {
	c.mu.Lock()
	resumed := c.resumed
	c.mu.Unlock()
	select {
	case <-resumed:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) worker(work <-chan *message.Message) {
	defer c.wg.Done()
	for msg := range work {
		item, ok := msg.Context().Value(exchangeKey{}).(*pending)
		if !ok {
			types.LogAt(c.endpoint.Logger(), "WARN", "seda:%s received message %s without exchange", c.endpoint.Name, msg.UUID)
			continue
		}
		if !c.BeginOp() {
			types.LogAt(c.endpoint.Logger(), "WARN", "seda:%s is stopping, dropping exchange %s", c.endpoint.Name, item.exchange.Id())
			dropped := item.exchange.Copy()
			dropped.SetErr(ErrQueueClosed)
			item.finish(dropped)
			continue
		}
		exchange := item.exchange.Copy()
		_ = types.Run(c.processor, exchange)
		if exchange.IsFailed() && !item.wait {
			types.LogAt(c.endpoint.Logger(), "ERROR", "seda:%s failed to process exchange %s: %v", c.endpoint.Name, exchange.Id(), exchange.Err())
		}
		item.finish(exchange)
		c.EndOp()
	}
}

// Stop unsubscribes, waits for the inflight exchanges and the workers to finish.
func (c *Consumer) Stop(ctx context.Context) error {
	e := c.endpoint
	e.component.removeConsumer(e.Name, c)
	c.GracefulStop(ctx, func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atomic.CompareAndSwapInt32(&c.suspended, 0, 1) && c.resumed != nil {
		c.resumed = make(chan struct{})
	}
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atomic.CompareAndSwapInt32(&c.suspended, 1, 0) && c.resumed != nil {
		close(c.resumed)
	}
}

func (c *Consumer) IsSuspended() bool {
	return atomic.LoadInt32(&c.suspended) == 1
}
