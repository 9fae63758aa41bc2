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
	"sync"
	"sync/atomic"

	"github.com/rulego/routego/api/types"
)

var _ types.UnitOfWork = (*DefaultUnitOfWork)(nil)

// DefaultUnitOfWork runs its synchronizations once, when the exchange is done.
// DefaultUnitOfWork 默认工作单元，交换结束时执行一次回调
type DefaultUnitOfWork struct {
	id     string
	mu     sync.Mutex
	syncs  []types.Synchronization
	done   int32
	logger types.Logger
}

// NewUnitOfWork creates a unit of work for exchange
func NewUnitOfWork(exchange *types.Exchange, logger types.Logger) *DefaultUnitOfWork {
	return &DefaultUnitOfWork{id: exchange.Id(), logger: logger}
}

func (u *DefaultUnitOfWork) Id() string {
	return u.id
}

func (u *DefaultUnitOfWork) AddSynchronization(s types.Synchronization) {
	if s == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.syncs = append(u.syncs, s)
}

func (u *DefaultUnitOfWork) RemoveSynchronization(s types.Synchronization) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, item := range u.syncs {
		if item == s {
			u.syncs = append(u.syncs[:i], u.syncs[i+1:]...)
			return
		}
	}
}

// Done notifies every synchronization in registration order. A panicking
// synchronization is logged and does not prevent the others.
func (u *DefaultUnitOfWork) Done(exchange *types.Exchange) {
	if !atomic.CompareAndSwapInt32(&u.done, 0, 1) {
		return
	}
	u.mu.Lock()
	syncs := make([]types.Synchronization, len(u.syncs))
	copy(syncs, u.syncs)
	u.mu.Unlock()
	failed := exchange.IsFailed()
	for _, s := range syncs {
		u.notify(s, exchange, failed)
	}
}

func (u *DefaultUnitOfWork) notify(s types.Synchronization, exchange *types.Exchange, failed bool) {
	defer func() {
		if e := recover(); e != nil && u.logger != nil {
			u.logger.Printf("synchronization of exchange %s panicked: %v", u.id, e)
		}
	}()
	if failed {
		s.OnFailure(exchange)
	} else {
		s.OnComplete(exchange)
	}
}

func (u *DefaultUnitOfWork) IsDone() bool {
	return atomic.LoadInt32(&u.done) == 1
}

// UnitOfWorkProcessor gives the exchange a unit of work around child and
// completes it afterwards. An exchange that already carries a live unit of
// work keeps it and completion is left to its owner.
//
// UnitOfWorkProcessor 为交换创建工作单元，子处理器执行完毕后完成工作单元
type UnitOfWorkProcessor struct {
	child  types.Processor
	logger types.Logger
	// BeforeDone runs after child and before the unit of work completes
	BeforeDone func(exchange *types.Exchange)
}

func NewUnitOfWorkProcessor(child types.Processor, logger types.Logger) *UnitOfWorkProcessor {
	return &UnitOfWorkProcessor{child: child, logger: logger}
}

func (x *UnitOfWorkProcessor) Process(exchange *types.Exchange) error {
	if uow := exchange.UnitOfWork(); uow != nil && !uow.IsDone() {
		return types.Run(x.child, exchange)
	}
	uow := NewUnitOfWork(exchange, x.logger)
	exchange.SetUnitOfWork(uow)
	if !exchange.HasProperty(types.PropertyOriginalMessage) {
		exchange.SetProperty(types.PropertyOriginalMessage, exchange.Message().Copy())
	}
	err := types.Run(x.child, exchange)
	if x.BeforeDone != nil {
		x.BeforeDone(exchange)
	}
	uow.Done(exchange)
	return err
}

func (x *UnitOfWorkProcessor) Next() []types.Processor {
	return []types.Processor{x.child}
}
