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

package engine

import (
	"fmt"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

// setBody: expression
type setBodyReifier struct {
	*ProcessorReifier
}

func (r *setBodyReifier) CreateProcessor() (types.Processor, error) {
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	return processor.NewSetBodyProcessor(expression), nil
}

// transform: expression, the result replaces the body
type transformReifier struct {
	*ProcessorReifier
}

func (r *transformReifier) CreateProcessor() (types.Processor, error) {
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	return processor.NewSetBodyProcessor(expression), nil
}

// setHeader: name, expression
type setHeaderReifier struct {
	*ProcessorReifier
}

func (r *setHeaderReifier) CreateProcessor() (types.Processor, error) {
	name, expression, err := r.nameAndExpression()
	if err != nil {
		return nil, err
	}
	return processor.NewSetHeaderProcessor(name, expression), nil
}

// setProperty: name, expression
type setPropertyReifier struct {
	*ProcessorReifier
}

func (r *setPropertyReifier) CreateProcessor() (types.Processor, error) {
	name, expression, err := r.nameAndExpression()
	if err != nil {
		return nil, err
	}
	return processor.NewSetPropertyProcessor(name, expression), nil
}

func (r *ProcessorReifier) nameAndExpression() (string, types.Expression, error) {
	name := r.Text("name")
	if name == "" {
		return "", nil, types.NewIllegalArgumentError("name must be configured on %s", r.node)
	}
	expression, err := r.MandatoryExpression("expression")
	return name, expression, err
}

// removeHeader: name, a wildcard pattern
type removeHeaderReifier struct {
	*ProcessorReifier
}

func (r *removeHeaderReifier) CreateProcessor() (types.Processor, error) {
	pattern, err := r.pattern()
	if err != nil {
		return nil, err
	}
	return processor.NewRemoveHeaderProcessor(pattern), nil
}

// removeProperty: name, a wildcard pattern
type removePropertyReifier struct {
	*ProcessorReifier
}

func (r *removePropertyReifier) CreateProcessor() (types.Processor, error) {
	pattern, err := r.pattern()
	if err != nil {
		return nil, err
	}
	return processor.NewRemovePropertyProcessor(pattern), nil
}

func (r *ProcessorReifier) pattern() (string, error) {
	pattern := r.Text("name")
	if pattern == "" {
		pattern = r.Text("pattern")
	}
	if pattern == "" {
		return "", types.NewIllegalArgumentError("name must be configured on %s", r.node)
	}
	return pattern, nil
}

// log: message (simple), loggingLevel, logName
type logReifier struct {
	*ProcessorReifier
}

func (r *logReifier) CreateProcessor() (types.Processor, error) {
	message, err := r.SimpleExpression("message")
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, types.NewIllegalArgumentError("message must be configured on %s", r.node)
	}
	level := r.Text("loggingLevel")
	if level == "" {
		level = "INFO"
	}
	name := r.Text("logName")
	if name == "" {
		name = r.route.id
	}
	return processor.NewLogProcessor(message, level, name, r.Logger()), nil
}

// validate: expression, a predicate the exchange must match
type validateReifier struct {
	*ProcessorReifier
}

func (r *validateReifier) CreateProcessor() (types.Processor, error) {
	predicate, err := r.MandatoryPredicate("expression")
	if err != nil {
		return nil, err
	}
	def, _, _ := r.ExpressionDefinition("expression")
	return processor.NewValidateProcessor(predicate, def.Expression), nil
}

// sort: expression (body by default), comparatorRef, delimiter
type sortReifier struct {
	*ProcessorReifier
}

func (r *sortReifier) CreateProcessor() (types.Processor, error) {
	expression, err := r.Expression("expression")
	if err != nil {
		return nil, err
	}
	if expression == nil {
		expression = types.ExpressionFunc(func(exchange *types.Exchange) (interface{}, error) {
			return exchange.Body(), nil
		})
	}
	var comparator func(a, b interface{}) int
	if ref := r.Text("comparatorRef"); ref != "" {
		bean, err := r.Bean(ref)
		if err != nil {
			return nil, err
		}
		fn, ok := bean.(func(a, b interface{}) int)
		if !ok {
			return nil, &types.LookupError{Name: ref, Type: "Comparator", Msg: fmt.Sprintf("found bean of type %T", bean)}
		}
		comparator = fn
	}
	x := processor.NewSortProcessor(expression, comparator)
	if delimiter := r.Text("delimiter"); delimiter != "" {
		x.Delimiter = delimiter
	}
	return x, nil
}
