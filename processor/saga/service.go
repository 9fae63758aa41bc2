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

// Package saga coordinates long running actions: each saga step registers
// compensation and completion endpoints that are called when the saga is
// compensated or completed.
//
// Package saga 长事务（Saga）协调，步骤注册补偿和完成端点，在回滚或提交时调用
package saga

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/utils/pool"
)

const (
	// DefaultMaxRetryAttempts calls to a compensation or completion endpoint
	DefaultMaxRetryAttempts = 5
	// DefaultRetryDelay between failed calls
	DefaultRetryDelay = 5 * time.Second
)

// Status of a saga
type Status string

const (
	StatusRunning      Status = "RUNNING"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusCompleting   Status = "COMPLETING"
	StatusCompleted    Status = "COMPLETED"
)

// Step endpoints and option values registered by one saga step
type Step struct {
	// Compensation uri called when the saga is compensated
	Compensation string
	// Completion uri called when the saga is completed
	Completion string
	// Options sent as headers to the compensation and completion endpoints
	Options map[string]interface{}
	// Timeout compensates the saga when it is still running after this long
	Timeout time.Duration
}

// Coordinator a running saga
// Coordinator Saga协调者
type Coordinator interface {
	Id() string
	Status() Status
	BeginStep(ctx context.Context, step Step) error
	Compensate(ctx context.Context) error
	Complete(ctx context.Context) error
}

// Service creates and looks up sagas
type Service interface {
	NewSaga(ctx context.Context) (Coordinator, error)
	GetSaga(id string) (Coordinator, bool)
}

var (
	_ Service       = (*InMemorySagaService)(nil)
	_ types.Service = (*InMemorySagaService)(nil)
	_ Coordinator   = (*inMemoryCoordinator)(nil)
)

// InMemorySagaService keeps sagas in memory and calls step endpoints through
// the endpoint resolver. Finished sagas are forgotten.
//
// InMemorySagaService 内存Saga服务
type InMemorySagaService struct {
	MaxRetryAttempts int
	RetryDelay       time.Duration

	resolver  types.EndpointResolver
	producers *processor.ProducerCache
	scheduler types.ScheduledExecutorService
	owned     *pool.ScheduledExecutor
	logger    types.Logger

	sagas   sync.Map
	entropy struct {
		sync.Mutex
		source *ulid.MonotonicEntropy
	}
}

// NewInMemorySagaService creates a saga service sending to endpoints resolved by resolver
func NewInMemorySagaService(resolver types.EndpointResolver, logger types.Logger) *InMemorySagaService {
	s := &InMemorySagaService{
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		resolver:         resolver,
		producers:        processor.NewProducerCache(resolver),
		logger:           types.NewLogger(logger),
	}
	s.entropy.source = ulid.Monotonic(rand.Reader, 0)
	return s
}

// SetScheduler sets the executor running step timeouts, the service owns one otherwise
func (s *InMemorySagaService) SetScheduler(scheduler types.ScheduledExecutorService) {
	s.scheduler = scheduler
}

func (s *InMemorySagaService) newId() string {
	s.entropy.Lock()
	defer s.entropy.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy.source).String()
}

func (s *InMemorySagaService) Start(ctx context.Context) error {
	if s.scheduler == nil {
		s.owned = pool.NewScheduledExecutor("saga", nil)
		s.scheduler = s.owned
	}
	return s.producers.Start(ctx)
}

func (s *InMemorySagaService) Stop(ctx context.Context) error {
	if s.owned != nil {
		s.owned.Shutdown()
		s.owned = nil
		s.scheduler = nil
	}
	return s.producers.Stop(ctx)
}

func (s *InMemorySagaService) NewSaga(ctx context.Context) (Coordinator, error) {
	c := &inMemoryCoordinator{id: s.newId(), service: s, status: StatusRunning}
	s.sagas.Store(c.id, c)
	return c, nil
}

func (s *InMemorySagaService) GetSaga(id string) (Coordinator, bool) {
	if v, ok := s.sagas.Load(id); ok {
		return v.(Coordinator), true
	}
	return nil, false
}

// Size number of sagas not finished yet
func (s *InMemorySagaService) Size() int {
	n := 0
	s.sagas.Range(func(key, value interface{}) bool {
		n++
		return true
	})
	return n
}

// call sends a message carrying the saga id and the step options to uri, retrying on failure
func (s *InMemorySagaService) call(ctx context.Context, sagaId, uri string, options map[string]interface{}) error {
	attempts := s.MaxRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := processor.Sleep(ctx, s.RetryDelay); err != nil {
				return err
			}
		}
		ex := types.NewExchange(ctx, nil)
		ex.SetHeader(types.HeaderSagaLongRunningAction, sagaId)
		for k, v := range options {
			ex.SetHeader(k, v)
		}
		if err = s.producers.Send(uri, ex); err == nil {
			return nil
		}
		types.LogAt(s.logger, "WARN", "saga %s call to %s failed, attempt %d of %d: %v", sagaId, uri, i+1, attempts, err)
	}
	return err
}

type inMemoryCoordinator struct {
	id      string
	service *InMemorySagaService

	mu      sync.Mutex
	status  Status
	steps   []Step
	cancels []func()
}

func (c *inMemoryCoordinator) Id() string {
	return c.id
}

func (c *inMemoryCoordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *inMemoryCoordinator) BeginStep(ctx context.Context, step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return types.NewIllegalStateError("saga %s is %s, cannot begin a step", c.id, c.status)
	}
	c.steps = append(c.steps, step)
	if step.Timeout > 0 && c.service.scheduler != nil {
		cancel, err := c.service.scheduler.Schedule(step.Timeout, func() {
			if c.Status() == StatusRunning {
				types.LogAt(c.service.logger, "WARN", "saga %s timed out after %s, compensating", c.id, step.Timeout)
				_ = c.Compensate(context.Background())
			}
		})
		if err != nil {
			return err
		}
		c.cancels = append(c.cancels, cancel)
	}
	return nil
}

func (c *inMemoryCoordinator) Compensate(ctx context.Context) error {
	return c.finish(ctx, StatusCompensating, StatusCompensated, func(s Step) string { return s.Compensation })
}

func (c *inMemoryCoordinator) Complete(ctx context.Context) error {
	return c.finish(ctx, StatusCompleting, StatusCompleted, func(s Step) string { return s.Completion })
}

// finish moves the saga to its final status calling the step endpoints last step first
func (c *inMemoryCoordinator) finish(ctx context.Context, transient, final Status, uri func(Step) string) error {
	c.mu.Lock()
	switch c.status {
	case transient, final:
		c.mu.Unlock()
		return nil
	case StatusRunning:
	default:
		status := c.status
		c.mu.Unlock()
		return types.NewIllegalStateError("saga %s is %s, cannot move to %s", c.id, status, final)
	}
	c.status = transient
	steps := c.steps
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	var first error
	for i := len(steps) - 1; i >= 0; i-- {
		if u := uri(steps[i]); u != "" {
			if err := c.service.call(ctx, c.id, u, steps[i].Options); err != nil && first == nil {
				first = err
			}
		}
	}
	c.mu.Lock()
	c.status = final
	c.mu.Unlock()
	c.service.sagas.Delete(c.id)
	return first
}
