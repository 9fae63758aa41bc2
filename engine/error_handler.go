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
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/errorhandler"
)

var _ types.ErrorHandlerFactory = (*routeErrorHandlerFactory)(nil)

// routeErrorHandlerFactory creates the error handlers of one route from its
// error handler definition, falling back to the engine definition and then to
// the default error handler. The dead letter producer is shared by every
// channel of the route.
//
// routeErrorHandlerFactory 路由错误处理器工厂
type routeErrorHandlerFactory struct {
	route      *Route
	def        types.ErrorHandlerDefinition
	deadLetter types.Processor
	ref        types.ErrorHandlerFactory
}

func newRouteErrorHandlerFactory(route *Route) (*routeErrorHandlerFactory, error) {
	def := route.definition.ErrorHandler
	if def == nil {
		def = route.config.ErrorHandler
	}
	f := &routeErrorHandlerFactory{route: route}
	if def != nil {
		f.def = *def
	}
	switch f.def.Type {
	case "":
		f.def.Type = types.DefaultErrorHandler
	case types.DefaultErrorHandler, types.NoErrorHandler:
	case types.DeadLetterChannel:
		if f.def.DeadLetterUri == "" {
			f.def.DeadLetterUri = types.DefaultDeadLetterUri
		}
		endpoint, err := route.resolver.ResolveEndpoint(f.def.DeadLetterUri)
		if err != nil {
			return nil, err
		}
		send := processor.NewSendProcessor(endpoint)
		route.addService(send)
		f.deadLetter = send
	case types.RefErrorHandler:
		ref, err := types.LookupByNameAndType[types.ErrorHandlerFactory](route.registry, f.def.Ref)
		if err != nil {
			return nil, err
		}
		f.ref = ref
	default:
		return nil, types.NewIllegalArgumentError("unknown error handler type %s on route %s", f.def.Type, route.id)
	}
	return f, nil
}

// Type the resolved error handler type
func (f *routeErrorHandlerFactory) Type() types.ErrorHandlerType {
	return f.def.Type
}

func (f *routeErrorHandlerFactory) CreateErrorHandler(route types.RouteInfo, output types.Processor) (types.Processor, error) {
	switch f.def.Type {
	case types.NoErrorHandler:
		return errorhandler.NewNoErrorHandler(output), nil
	case types.DeadLetterChannel:
		return errorhandler.NewDeadLetterChannel(output, f.route.redelivery, f.route.exceptions,
			f.deadLetter, f.def.DeadLetterUri, f.def.UseOriginalMessage, f.route.logger), nil
	case types.RefErrorHandler:
		return f.ref.CreateErrorHandler(route, output)
	default:
		return errorhandler.NewDefaultErrorHandler(output, f.route.redelivery, f.route.exceptions, f.route.logger), nil
	}
}
