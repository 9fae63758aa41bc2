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

package errorhandler

import (
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

var (
	_ types.Processor = (*RedeliveryErrorHandler)(nil)
	_ types.Processor = (*NoErrorHandler)(nil)
)

// RedeliveryErrorHandler redelivers a failed exchange to its output according
// to the redelivery policy. Once exhausted the matching onException policy
// decides whether the fault is handled, continued or propagated. With a dead
// letter processor unhandled faults go to the dead letter endpoint instead of
// being propagated.
//
// RedeliveryErrorHandler 重试错误处理器。重试耗尽后由 onException 策略决定错误是否被处理；
// 配置了死信处理器时，未处理的错误发送到死信端点。
type RedeliveryErrorHandler struct {
	output     types.Processor
	policy     *RedeliveryPolicy
	exceptions *ExceptionPolicyResolver
	// deadLetter nil for the default error handler
	deadLetter         types.Processor
	deadLetterUri      string
	useOriginalMessage bool
	logger             types.Logger
}

// NewDefaultErrorHandler redelivers then propagates the fault
func NewDefaultErrorHandler(output types.Processor, policy *RedeliveryPolicy, exceptions *ExceptionPolicyResolver, logger types.Logger) *RedeliveryErrorHandler {
	if policy == nil {
		policy = DefaultRedeliveryPolicy()
	}
	return &RedeliveryErrorHandler{output: output, policy: policy, exceptions: exceptions, logger: logger}
}

// NewDeadLetterChannel redelivers then sends the failed exchange to deadLetter and marks it handled
func NewDeadLetterChannel(output types.Processor, policy *RedeliveryPolicy, exceptions *ExceptionPolicyResolver,
	deadLetter types.Processor, deadLetterUri string, useOriginalMessage bool, logger types.Logger) *RedeliveryErrorHandler {
	h := NewDefaultErrorHandler(output, policy, exceptions, logger)
	h.deadLetter = deadLetter
	h.deadLetterUri = deadLetterUri
	h.useOriginalMessage = useOriginalMessage
	return h
}

// Output the guarded processor
func (x *RedeliveryErrorHandler) Output() types.Processor {
	return x.output
}

// IsDeadLetterChannel reports whether unhandled faults go to a dead letter endpoint
func (x *RedeliveryErrorHandler) IsDeadLetterChannel() bool {
	return x.deadLetter != nil
}

func (x *RedeliveryErrorHandler) Process(exchange *types.Exchange) error {
	for counter := 1; ; counter++ {
		_ = types.Run(x.output, exchange)
		err := exchange.Err()
		if err == nil {
			return nil
		}
		if exchange.IsRollbackOnly() {
			return err
		}
		policy := x.exceptions.Resolve(exchange, err)
		redelivery := x.policy
		if policy != nil && policy.Redelivery != nil {
			redelivery = policy.Redelivery
		}
		if !x.shouldRedeliver(exchange, policy, redelivery, counter) {
			return x.exhausted(exchange, err, policy, counter-1)
		}
		delay := redelivery.Delay(counter)
		if redelivery.LogRetryAttempted {
			types.LogAt(x.logger, redelivery.RetryAttemptedLogLevel, "Failed delivery for (exchangeId: %s). On delivery attempt: %d caught: %v. Redelivering in %s",
				exchange.Id(), counter-1, err, delay)
		}
		if e := processor.Sleep(exchange.Context(), delay); e != nil {
			return x.exhausted(exchange, err, policy, counter-1)
		}
		exchange.SetErr(nil)
		exchange.SetHeader(types.HeaderRedelivered, true)
		exchange.SetHeader(types.HeaderRedeliveryCounter, counter)
		exchange.SetHeader(types.HeaderRedeliveryMaxCounter, redelivery.MaximumRedeliveries)
	}
}

func (x *RedeliveryErrorHandler) shouldRedeliver(exchange *types.Exchange, policy *ExceptionPolicy, redelivery *RedeliveryPolicy, counter int) bool {
	if exchange.Context().Err() != nil {
		return false
	}
	if policy != nil && policy.RetryWhile != nil {
		ok, err := policy.RetryWhile.Matches(exchange)
		return err == nil && ok
	}
	return redelivery.ShouldRedeliver(counter)
}

func (x *RedeliveryErrorHandler) exhausted(exchange *types.Exchange, err error, policy *ExceptionPolicy, attempts int) error {
	exchange.SetProperty(types.PropertyRedeliveryExhausted, true)
	if to := exchange.Property(types.PropertyToEndpoint); to != nil {
		exchange.SetProperty(types.PropertyFailureEndpoint, to)
	}
	handled, continued := false, false
	if policy != nil {
		if policy.Processor != nil {
			err = x.runFailureProcessor(exchange, err, policy.Processor, policy.UseOriginalMessage)
		}
		handled = matches(policy.Handled, exchange)
		continued = matches(policy.Continued, exchange)
	}
	switch {
	case continued:
		exchange.SetErr(nil)
		exchange.SetProperty(types.PropertyExceptionCaught, err)
		return nil
	case handled:
		x.markHandled(exchange, err)
		return nil
	case x.deadLetter != nil:
		x.deliverToDeadLetter(exchange, err, attempts)
		return nil
	}
	if x.policy.LogExhausted {
		types.Levelled(x.logger).Errorf("Failed delivery for (exchangeId: %s). Exhausted after delivery attempt: %d caught: %v",
			exchange.Id(), attempts+1, err)
	}
	exchange.SetProperty(types.PropertyErrorHandlerHandled, false)
	exchange.SetErr(err)
	return err
}

// runFailureProcessor runs p with the fault moved to ExceptionCaught. A fault
// raised by p replaces the original one.
func (x *RedeliveryErrorHandler) runFailureProcessor(exchange *types.Exchange, err error, p types.Processor, useOriginal bool) error {
	exchange.SetErr(nil)
	exchange.SetProperty(types.PropertyExceptionCaught, err)
	if useOriginal {
		restoreOriginalMessage(exchange)
	}
	_ = types.Run(p, exchange)
	if newErr := exchange.Err(); newErr != nil {
		err = newErr
	}
	exchange.SetErr(err)
	return err
}

func (x *RedeliveryErrorHandler) markHandled(exchange *types.Exchange, err error) {
	exchange.SetErr(nil)
	exchange.SetProperty(types.PropertyExceptionCaught, err)
	exchange.SetProperty(types.PropertyErrorHandlerHandled, true)
	exchange.SetRouteStop(true)
}

func (x *RedeliveryErrorHandler) deliverToDeadLetter(exchange *types.Exchange, err error, attempts int) {
	x.markHandled(exchange, err)
	if x.useOriginalMessage {
		restoreOriginalMessage(exchange)
	}
	exchange.SetRouteStop(false)
	if dlErr := types.Run(x.deadLetter, exchange); dlErr != nil {
		types.Levelled(x.logger).Errorf("Failed to deliver exchange %s to dead letter %s: %v", exchange.Id(), x.deadLetterUri, dlErr)
	}
	if x.policy.LogExhausted {
		types.Levelled(x.logger).Warnf("Failed delivery for (exchangeId: %s). Exhausted after delivery attempt: %d caught: %v. Processed by failure processor: %s",
			exchange.Id(), attempts+1, err, x.deadLetterUri)
	}
	exchange.SetErr(nil)
	exchange.SetRouteStop(true)
}

func (x *RedeliveryErrorHandler) Next() []types.Processor {
	return []types.Processor{x.output}
}

func matches(p types.Predicate, exchange *types.Exchange) bool {
	if p == nil {
		return false
	}
	ok, err := p.Matches(exchange)
	return err == nil && ok
}

func restoreOriginalMessage(exchange *types.Exchange) {
	if original, ok := exchange.Property(types.PropertyOriginalMessage).(*types.Message); ok {
		exchange.In = original.Copy()
	}
}

// NoErrorHandler passes faults through untouched
// NoErrorHandler 不处理错误
type NoErrorHandler struct {
	output types.Processor
}

func NewNoErrorHandler(output types.Processor) *NoErrorHandler {
	return &NoErrorHandler{output: output}
}

func (x *NoErrorHandler) Process(exchange *types.Exchange) error {
	return types.Run(x.output, exchange)
}

func (x *NoErrorHandler) Next() []types.Processor {
	return []types.Processor{x.output}
}
