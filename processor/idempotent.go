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
	"sync/atomic"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

// IdempotentConsumer filters out duplicate messages identified by a message id
// expression. Ids are kept in an IdempotentRepository.
//
// IdempotentConsumer 幂等消费者，根据消息ID过滤重复消息
type IdempotentConsumer struct {
	messageId  types.Expression
	repository types.IdempotentRepository
	child      types.Processor
	// Eager add the id before processing, otherwise after success
	Eager bool
	// CompletionEager confirm or remove when the child is done instead of when the unit of work is done
	CompletionEager bool
	// SkipDuplicate drop duplicates, otherwise they continue with the DuplicateMessage property
	SkipDuplicate bool
	// RemoveOnFailure remove the id when processing failed
	RemoveOnFailure bool
	duplicates      int64
}

func NewIdempotentConsumer(messageId types.Expression, repository types.IdempotentRepository, child types.Processor) *IdempotentConsumer {
	return &IdempotentConsumer{
		messageId:       messageId,
		repository:      repository,
		child:           child,
		Eager:           true,
		SkipDuplicate:   true,
		RemoveOnFailure: true,
	}
}

func (x *IdempotentConsumer) Process(exchange *types.Exchange) error {
	v, err := x.messageId.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	id := str.ToString(v)
	if id == "" {
		err = types.NewExchangeError(exchange, nil, "no message id")
		exchange.SetErr(err)
		return err
	}
	ctx := exchange.Context()
	var isNew bool
	if x.Eager {
		isNew, err = x.repository.Add(ctx, id)
	} else {
		var contains bool
		contains, err = x.repository.Contains(ctx, id)
		isNew = !contains
	}
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	if !isNew {
		atomic.AddInt64(&x.duplicates, 1)
		exchange.SetProperty(types.PropertyDuplicateMessage, true)
		if x.SkipDuplicate {
			return nil
		}
		return types.Run(x.child, exchange)
	}
	_ = types.Run(x.child, exchange)
	if uow := exchange.UnitOfWork(); !x.CompletionEager && uow != nil && !uow.IsDone() {
		uow.AddSynchronization(&types.SynchronizationAdapter{
			OnCompleteFunc: func(ex *types.Exchange) { x.onComplete(ex, id) },
			OnFailureFunc:  func(ex *types.Exchange) { x.onFailure(ex, id) },
		})
	} else if exchange.IsFailed() {
		x.onFailure(exchange, id)
	} else {
		x.onComplete(exchange, id)
	}
	return exchange.Err()
}

func (x *IdempotentConsumer) onComplete(exchange *types.Exchange, id string) {
	ctx := exchange.Context()
	if !x.Eager {
		if _, err := x.repository.Add(ctx, id); err != nil {
			return
		}
	}
	_ = x.repository.Confirm(ctx, id)
}

func (x *IdempotentConsumer) onFailure(exchange *types.Exchange, id string) {
	if x.RemoveOnFailure {
		_ = x.repository.Remove(exchange.Context(), id)
	}
}

// Duplicates number of duplicate messages seen
func (x *IdempotentConsumer) Duplicates() int64 {
	return atomic.LoadInt64(&x.duplicates)
}

func (x *IdempotentConsumer) Next() []types.Processor {
	return []types.Processor{x.child}
}
