/*
 * Copyright 2023 The RuleGo Authors.
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

package types

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ExchangePattern 交换模式
type ExchangePattern int

const (
	// InOnly fire and forget
	InOnly ExchangePattern = iota
	// InOut request reply
	InOut
)

func (p ExchangePattern) String() string {
	if p == InOut {
		return "InOut"
	}
	return "InOnly"
}

// Headers message headers
// 消息头
type Headers map[string]interface{}

// Copy returns a shallow copy of the headers
func (h Headers) Copy() Headers {
	if h == nil {
		return Headers{}
	}
	c := make(Headers, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// Message is the payload carried by an exchange.
// Message 交换携带的消息
type Message struct {
	// Body 消息体
	Body interface{}
	// Headers 消息头
	Headers Headers
}

// NewMessage creates a message with the given body
func NewMessage(body interface{}) *Message {
	return &Message{Body: body, Headers: Headers{}}
}

// Header returns the header value or nil
func (m *Message) Header(key string) interface{} {
	if m.Headers == nil {
		return nil
	}
	return m.Headers[key]
}

// SetHeader sets a header
func (m *Message) SetHeader(key string, value interface{}) {
	if m.Headers == nil {
		m.Headers = Headers{}
	}
	m.Headers[key] = value
}

// RemoveHeader removes a header
func (m *Message) RemoveHeader(key string) {
	delete(m.Headers, key)
}

// Copy returns a copy of the message. The body is not deep-copied.
func (m *Message) Copy() *Message {
	if m == nil {
		return NewMessage(nil)
	}
	return &Message{Body: m.Body, Headers: m.Headers.Copy()}
}

// Exchange is the in-flight message context flowing through processors.
// An exchange is not safe for concurrent mutation: processors that hand an
// exchange to another goroutine hand over a copy.
//
// Exchange 在处理器之间流转的消息上下文。交换不支持并发修改，跨协程传递时需要复制。
type Exchange struct {
	id      string
	created time.Time
	// Pattern exchange pattern
	Pattern ExchangePattern
	// In the current message
	In           *Message
	properties   map[string]interface{}
	err          error
	rollbackOnly bool
	routeStop    bool
	unitOfWork   UnitOfWork
	ctx          context.Context
	// FromRouteId the route that created this exchange
	FromRouteId string
	// FromEndpoint the endpoint uri that created this exchange
	FromEndpoint string
}

// NewExchange creates an exchange with a new id
// NewExchange 创建交换
func NewExchange(ctx context.Context, body interface{}) *Exchange {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Exchange{
		id:         newExchangeId(),
		created:    time.Now(),
		In:         NewMessage(body),
		properties: make(map[string]interface{}),
		ctx:        ctx,
	}
}

func newExchangeId() string {
	uuId, _ := uuid.NewV4()
	return uuId.String()
}

// Id exchange id
func (e *Exchange) Id() string {
	return e.id
}

// SetId replaces the exchange id
func (e *Exchange) SetId(id string) {
	e.id = id
}

// Created creation time
func (e *Exchange) Created() time.Time {
	return e.created
}

// Context returns the exchange context, never nil
func (e *Exchange) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// SetContext replaces the exchange context
func (e *Exchange) SetContext(ctx context.Context) {
	e.ctx = ctx
}

// Message returns the current message, never nil
func (e *Exchange) Message() *Message {
	if e.In == nil {
		e.In = NewMessage(nil)
	}
	return e.In
}

// Body current message body
func (e *Exchange) Body() interface{} {
	return e.Message().Body
}

// SetBody sets the current message body
func (e *Exchange) SetBody(body interface{}) {
	e.Message().Body = body
}

// Header returns a header of the current message
func (e *Exchange) Header(key string) interface{} {
	return e.Message().Header(key)
}

// SetHeader sets a header of the current message
func (e *Exchange) SetHeader(key string, value interface{}) {
	e.Message().SetHeader(key, value)
}

// Property returns an exchange property
// Property 获取交换属性
func (e *Exchange) Property(key string) interface{} {
	if e.properties == nil {
		return nil
	}
	return e.properties[key]
}

// HasProperty reports whether the property is set
func (e *Exchange) HasProperty(key string) bool {
	if e.properties == nil {
		return false
	}
	_, ok := e.properties[key]
	return ok
}

// SetProperty sets an exchange property
func (e *Exchange) SetProperty(key string, value interface{}) {
	if e.properties == nil {
		e.properties = make(map[string]interface{})
	}
	e.properties[key] = value
}

// RemoveProperty removes an exchange property
func (e *Exchange) RemoveProperty(key string) {
	delete(e.properties, key)
}

// Properties returns the property map. Callers must not retain it across goroutines.
func (e *Exchange) Properties() map[string]interface{} {
	if e.properties == nil {
		e.properties = make(map[string]interface{})
	}
	return e.properties
}

// Err returns the fault raised while processing the exchange
// Err 处理过程中产生的错误
func (e *Exchange) Err() error {
	return e.err
}

// SetErr sets or clears the fault
func (e *Exchange) SetErr(err error) {
	e.err = err
}

// IsFailed reports whether the exchange carries a fault
func (e *Exchange) IsFailed() bool {
	return e.err != nil
}

// IsRollbackOnly rollback only flag
func (e *Exchange) IsRollbackOnly() bool {
	return e.rollbackOnly
}

// SetRollbackOnly marks the exchange for rollback
func (e *Exchange) SetRollbackOnly(rollbackOnly bool) {
	e.rollbackOnly = rollbackOnly
}

// IsRouteStop reports whether routing should stop for this exchange
func (e *Exchange) IsRouteStop() bool {
	return e.routeStop
}

// SetRouteStop marks the exchange so that no further processors run
func (e *Exchange) SetRouteStop(stop bool) {
	e.routeStop = stop
}

// UnitOfWork returns the unit of work, may be nil
func (e *Exchange) UnitOfWork() UnitOfWork {
	return e.unitOfWork
}

// SetUnitOfWork sets the unit of work
func (e *Exchange) SetUnitOfWork(uow UnitOfWork) {
	e.unitOfWork = uow
}

// Copy returns a copy that keeps the exchange id. Headers and properties are
// copied, the unit of work is not.
// Copy 复制交换，保留ID，不复制工作单元
func (e *Exchange) Copy() *Exchange {
	props := make(map[string]interface{}, len(e.properties))
	for k, v := range e.properties {
		props[k] = v
	}
	return &Exchange{
		id:           e.id,
		created:      e.created,
		Pattern:      e.Pattern,
		In:           e.In.Copy(),
		properties:   props,
		err:          e.err,
		rollbackOnly: e.rollbackOnly,
		routeStop:    e.routeStop,
		ctx:          e.ctx,
		FromRouteId:  e.FromRouteId,
		FromEndpoint: e.FromEndpoint,
	}
}

// CorrelatedCopy returns a copy with a new id that records the original id
// in the CorrelationId property.
func (e *Exchange) CorrelatedCopy() *Exchange {
	c := e.Copy()
	c.id = newExchangeId()
	c.created = time.Now()
	c.SetProperty(PropertyCorrelationId, e.id)
	return c
}

// CopyResultsFrom copies message, properties and fault of source into e, keeping e's id.
func (e *Exchange) CopyResultsFrom(source *Exchange) {
	if source == nil || source == e {
		return
	}
	e.In = source.In.Copy()
	props := make(map[string]interface{}, len(source.properties))
	for k, v := range source.properties {
		props[k] = v
	}
	e.properties = props
	e.err = source.err
	e.rollbackOnly = source.rollbackOnly
	e.routeStop = source.routeStop
}

// Synchronization is notified when a unit of work is done
// Synchronization 工作单元完成回调
type Synchronization interface {
	OnComplete(exchange *Exchange)
	OnFailure(exchange *Exchange)
}

// SynchronizationAdapter adapts functions to Synchronization
type SynchronizationAdapter struct {
	OnCompleteFunc func(exchange *Exchange)
	OnFailureFunc  func(exchange *Exchange)
}

func (s *SynchronizationAdapter) OnComplete(exchange *Exchange) {
	if s.OnCompleteFunc != nil {
		s.OnCompleteFunc(exchange)
	}
}

func (s *SynchronizationAdapter) OnFailure(exchange *Exchange) {
	if s.OnFailureFunc != nil {
		s.OnFailureFunc(exchange)
	}
}

// UnitOfWork tracks the lifecycle of an exchange for completion bookkeeping.
// UnitOfWork 工作单元，跟踪交换的生命周期
type UnitOfWork interface {
	// Id returns the id of the exchange that started the unit of work
	Id() string
	AddSynchronization(s Synchronization)
	RemoveSynchronization(s Synchronization)
	// Done runs the synchronizations, completion or failure depending on the exchange fault
	Done(exchange *Exchange)
	// IsDone reports whether Done has been called
	IsDone() bool
}
