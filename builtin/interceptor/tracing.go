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

package interceptor

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rulego/routego/api/types"
)

var _ types.InterceptStrategy = (*Tracing)(nil)

const tracerName = "github.com/rulego/routego"

// TracingOption configures Tracing
type TracingOption func(*Tracing)

// WithTracerProvider uses provider instead of the global one
func WithTracerProvider(provider trace.TracerProvider) TracingOption {
	return func(t *Tracing) {
		t.provider = provider
	}
}

// Tracing opens an OpenTelemetry span around each node. The span context is
// set on the exchange so nested nodes become child spans.
// Tracing 链路追踪拦截器
type Tracing struct {
	provider trace.TracerProvider
}

func NewTracing(opts ...TracingOption) *Tracing {
	t := &Tracing{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (i *Tracing) Order() int {
	return 5
}

func (i *Tracing) tracer() trace.Tracer {
	provider := i.provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(tracerName)
}

func (i *Tracing) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	tracer := i.tracer()
	name := ctx.Node.String()
	attrs := []attribute.KeyValue{
		attribute.String("route.id", ctx.RouteId),
		attribute.String("node.id", ctx.Node.Id),
		attribute.String("node.kind", string(ctx.Node.Kind)),
	}
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		parent := exchange.Context()
		spanCtx, span := tracer.Start(parent, name, trace.WithAttributes(attrs...))
		defer span.End()
		span.SetAttributes(attribute.String("exchange.id", exchange.Id()))

		exchange.SetContext(spanCtx)
		err := types.Run(target, exchange)
		exchange.SetContext(parent)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if exchange.IsRouteStop() {
			span.SetAttributes(attribute.Bool("exchange.stopped", true))
		}
		return err
	}), nil
}
