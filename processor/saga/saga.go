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

package saga

import (
	"strings"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

// Propagation how a saga node relates to a saga already carried by the exchange
type Propagation string

const (
	PropagationRequired     Propagation = "REQUIRED"
	PropagationRequiresNew  Propagation = "REQUIRES_NEW"
	PropagationMandatory    Propagation = "MANDATORY"
	PropagationSupports     Propagation = "SUPPORTS"
	PropagationNotSupported Propagation = "NOT_SUPPORTED"
	PropagationNever        Propagation = "NEVER"
)

// ParsePropagation parses a propagation name, "" is REQUIRED
func ParsePropagation(s string) (Propagation, error) {
	p := Propagation(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case "":
		return PropagationRequired, nil
	case PropagationRequired, PropagationRequiresNew, PropagationMandatory,
		PropagationSupports, PropagationNotSupported, PropagationNever:
		return p, nil
	}
	return "", types.NewIllegalArgumentError("unknown saga propagation %s", s)
}

// CompletionMode who completes a saga created by the node
type CompletionMode string

const (
	// CompletionAuto completes on success and compensates on failure
	CompletionAuto CompletionMode = "AUTO"
	// CompletionManual leaves completion to the application
	CompletionManual CompletionMode = "MANUAL"
)

// ParseCompletionMode parses a completion mode name, "" is AUTO
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch m := CompletionMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return CompletionAuto, nil
	case CompletionAuto, CompletionManual:
		return m, nil
	}
	return "", types.NewIllegalArgumentError("unknown saga completion mode %s", s)
}

var _ types.Processor = (*SagaProcessor)(nil)

// SagaProcessor runs its body inside a saga, enlisting a step with the
// compensation and completion endpoints. The saga id travels in the
// Long-Running-Action header.
//
// SagaProcessor Saga处理器
type SagaProcessor struct {
	Propagation    Propagation
	CompletionMode CompletionMode
	Compensation   string
	Completion     string
	// Options evaluated when the step begins and sent to the step endpoints
	Options map[string]types.Expression
	Timeout time.Duration

	id      string
	service Service
	body    types.Processor
	logger  types.Logger
}

// NewSagaProcessor creates a saga node
func NewSagaProcessor(service Service, body types.Processor, propagation Propagation, mode CompletionMode, logger types.Logger) *SagaProcessor {
	return &SagaProcessor{
		Propagation:    propagation,
		CompletionMode: mode,
		service:        service,
		body:           body,
		logger:         types.NewLogger(logger),
	}
}

func (x *SagaProcessor) Id() string {
	return x.id
}

func (x *SagaProcessor) SetId(id string) {
	x.id = id
}

func (x *SagaProcessor) Next() []types.Processor {
	return []types.Processor{x.body}
}

func (x *SagaProcessor) current(exchange *types.Exchange) (Coordinator, bool) {
	id := str.ToString(exchange.Header(types.HeaderSagaLongRunningAction))
	if id == "" {
		return nil, false
	}
	return x.service.GetSaga(id)
}

func (x *SagaProcessor) Process(exchange *types.Exchange) error {
	existing, inSaga := x.current(exchange)
	previous := exchange.Header(types.HeaderSagaLongRunningAction)
	defer x.restore(exchange, previous)

	switch x.Propagation {
	case PropagationRequired, "":
		if inSaga {
			return x.join(exchange, existing)
		}
		return x.create(exchange)
	case PropagationRequiresNew:
		return x.create(exchange)
	case PropagationMandatory:
		if !inSaga {
			return x.fail(exchange, types.NewIllegalStateError("a saga is required but none is active on exchange %s", exchange.Id()))
		}
		return x.join(exchange, existing)
	case PropagationSupports:
		if inSaga {
			return x.join(exchange, existing)
		}
		return types.Run(x.body, exchange)
	case PropagationNotSupported:
		exchange.Message().RemoveHeader(types.HeaderSagaLongRunningAction)
		exchange.RemoveProperty(types.PropertySagaLongRunningAction)
		return types.Run(x.body, exchange)
	case PropagationNever:
		if inSaga {
			return x.fail(exchange, types.NewIllegalStateError("saga %s is active but propagation is NEVER", existing.Id()))
		}
		return types.Run(x.body, exchange)
	}
	return x.fail(exchange, types.NewIllegalStateError("unknown saga propagation %s", x.Propagation))
}

func (x *SagaProcessor) restore(exchange *types.Exchange, previous interface{}) {
	if previous == nil {
		exchange.Message().RemoveHeader(types.HeaderSagaLongRunningAction)
		exchange.RemoveProperty(types.PropertySagaLongRunningAction)
		return
	}
	exchange.SetHeader(types.HeaderSagaLongRunningAction, previous)
	exchange.SetProperty(types.PropertySagaLongRunningAction, previous)
}

func (x *SagaProcessor) fail(exchange *types.Exchange, err error) error {
	exchange.SetErr(err)
	return err
}

func (x *SagaProcessor) enlist(exchange *types.Exchange, c Coordinator) error {
	exchange.SetHeader(types.HeaderSagaLongRunningAction, c.Id())
	exchange.SetProperty(types.PropertySagaLongRunningAction, c.Id())
	if x.Compensation == "" && x.Completion == "" && len(x.Options) == 0 && x.Timeout <= 0 {
		return nil
	}
	step := Step{Compensation: x.Compensation, Completion: x.Completion, Timeout: x.Timeout}
	if len(x.Options) > 0 {
		step.Options = make(map[string]interface{}, len(x.Options))
		for name, expr := range x.Options {
			v, err := expr.Evaluate(exchange)
			if err != nil {
				return types.NewExchangeError(exchange, err, "Error evaluating saga option %s", name)
			}
			step.Options[name] = v
		}
	}
	return c.BeginStep(exchange.Context(), step)
}

// join runs the body in a saga owned by an outer node, which decides its outcome
func (x *SagaProcessor) join(exchange *types.Exchange, c Coordinator) error {
	if err := x.enlist(exchange, c); err != nil {
		return x.fail(exchange, err)
	}
	return types.Run(x.body, exchange)
}

func (x *SagaProcessor) create(exchange *types.Exchange) error {
	c, err := x.service.NewSaga(exchange.Context())
	if err != nil {
		return x.fail(exchange, err)
	}
	if err := x.enlist(exchange, c); err != nil {
		_ = c.Compensate(exchange.Context())
		return x.fail(exchange, err)
	}
	bodyErr := types.Run(x.body, exchange)
	if x.CompletionMode == CompletionManual {
		return bodyErr
	}
	if bodyErr != nil {
		types.LogAt(x.logger, "DEBUG", "saga %s compensating after failure: %v", c.Id(), bodyErr)
		if err := c.Compensate(exchange.Context()); err != nil {
			types.LogAt(x.logger, "WARN", "saga %s compensation failed: %v", c.Id(), err)
		}
		return bodyErr
	}
	if err := c.Complete(exchange.Context()); err != nil {
		return x.fail(exchange, err)
	}
	return nil
}
