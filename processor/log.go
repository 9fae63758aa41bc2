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
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

// LogProcessor logs a message evaluated against the exchange
// LogProcessor 日志处理器
type LogProcessor struct {
	message types.Expression
	// Level TRACE, DEBUG, INFO, WARN, ERROR or OFF
	Level string
	// Name log name, defaults to the route id
	Name   string
	logger types.Logger
}

func NewLogProcessor(message types.Expression, level string, name string, logger types.Logger) *LogProcessor {
	if level == "" {
		level = "INFO"
	}
	return &LogProcessor{message: message, Level: level, Name: name, logger: logger}
}

func (x *LogProcessor) Process(exchange *types.Exchange) error {
	v, err := x.message.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	types.LogAt(x.logger, x.Level, "[%s] %s", x.Name, str.ToString(v))
	return nil
}

// StopProcessor stops routing the exchange, no further processor runs
// StopProcessor 停止路由
type StopProcessor struct{}

func (x *StopProcessor) Process(exchange *types.Exchange) error {
	exchange.SetRouteStop(true)
	return nil
}

// ThrowExceptionProcessor fails the exchange with a typed error
// ThrowExceptionProcessor 抛出指定类型的错误
type ThrowExceptionProcessor struct {
	// Err thrown as is when set
	Err      error
	typeName string
	message  types.Expression
}

func NewThrowExceptionProcessor(typeName string, message types.Expression) *ThrowExceptionProcessor {
	return &ThrowExceptionProcessor{typeName: typeName, message: message}
}

func (x *ThrowExceptionProcessor) Process(exchange *types.Exchange) error {
	err := x.Err
	if err == nil {
		msg := ""
		if x.message != nil {
			v, e := x.message.Evaluate(exchange)
			if e != nil {
				exchange.SetErr(e)
				return e
			}
			msg = str.ToString(v)
		}
		err = &types.ThrownError{TypeName: x.typeName, Msg: msg}
	}
	exchange.SetErr(err)
	return err
}

// PropertyRollbackOnlyLast marks only the innermost transaction for rollback
const PropertyRollbackOnlyLast = "RollbackOnlyLast"

// RollbackProcessor marks the exchange for rollback. Without a mark it fails
// the exchange with a RollbackError.
// RollbackProcessor 回滚处理器
type RollbackProcessor struct {
	Message              string
	MarkRollbackOnly     bool
	MarkRollbackOnlyLast bool
}

func (x *RollbackProcessor) Process(exchange *types.Exchange) error {
	if x.MarkRollbackOnlyLast {
		exchange.SetProperty(PropertyRollbackOnlyLast, true)
		exchange.SetRouteStop(true)
		return nil
	}
	if x.MarkRollbackOnly {
		exchange.SetRollbackOnly(true)
		exchange.SetRouteStop(true)
		return nil
	}
	msg := x.Message
	if msg == "" {
		msg = "intended rollback"
	}
	err := &types.RollbackError{Msg: msg}
	exchange.SetRollbackOnly(true)
	exchange.SetErr(err)
	return err
}
