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

package engine

import (
	"sort"
	"sync"

	"github.com/rulego/routego/api/types"
)

// Reifier turns a node definition into a processor.
// Reifier 把节点定义转换成处理器
type Reifier interface {
	// CreateProcessor creates the node processor. Nodes that only register
	// something with their route (intercept, onException, onCompletion) return nil.
	CreateProcessor() (types.Processor, error)
}

// ReifierFactory creates the reifier of a node. The ProcessorReifier gives
// access to the route, the node and the helpers to create child processors.
type ReifierFactory func(base *ProcessorReifier) Reifier

// ReifierFunc adapts a function to Reifier
type ReifierFunc func() (types.Processor, error)

func (f ReifierFunc) CreateProcessor() (types.Processor, error) {
	return f()
}

// ReifierRegistry maps node kinds to reifiers. The core kinds are resolved by
// an exhaustive switch; Register adds custom kinds or overrides core ones,
// custom registrations are always consulted first.
// A registry is created by the caller and handed to the engine.
//
// ReifierRegistry 节点转换器注册表，自定义注册优先于内置节点类型
type ReifierRegistry struct {
	custom map[types.NodeKind]ReifierFactory
	sync.RWMutex
}

// NewReifierRegistry creates a registry without custom registrations
func NewReifierRegistry() *ReifierRegistry {
	return &ReifierRegistry{custom: make(map[types.NodeKind]ReifierFactory)}
}

// Register adds a custom reifier for kind, replacing an earlier custom registration
func (r *ReifierRegistry) Register(kind types.NodeKind, factory ReifierFactory) error {
	if kind == "" {
		return types.NewIllegalArgumentError("node kind is required")
	}
	if factory == nil {
		return types.NewIllegalArgumentError("reifier factory of %s is nil", kind)
	}
	r.Lock()
	defer r.Unlock()
	r.custom[kind] = factory
	return nil
}

// Unregister removes the custom reifier of kind. Core kinds fall back to the built-in reifier.
func (r *ReifierRegistry) Unregister(kind types.NodeKind) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.custom[kind]; !ok {
		return &types.LookupError{Name: string(kind), Type: "Reifier", Msg: "no custom reifier registered"}
	}
	delete(r.custom, kind)
	return nil
}

// Clear removes every custom registration
func (r *ReifierRegistry) Clear() {
	r.Lock()
	defer r.Unlock()
	r.custom = make(map[types.NodeKind]ReifierFactory)
}

// CustomKinds kinds with a custom registration, sorted
func (r *ReifierRegistry) CustomKinds() []types.NodeKind {
	r.RLock()
	defer r.RUnlock()
	kinds := make([]types.NodeKind, 0, len(r.custom))
	for k := range r.custom {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsRegistered reports whether kind can be reified
func (r *ReifierRegistry) IsRegistered(kind types.NodeKind) bool {
	r.RLock()
	_, ok := r.custom[kind]
	r.RUnlock()
	return ok || kind.IsCore()
}

// Reifier returns the reifier of the node held by base
func (r *ReifierRegistry) Reifier(base *ProcessorReifier) (Reifier, error) {
	r.RLock()
	factory, ok := r.custom[base.node.Kind]
	r.RUnlock()
	if ok {
		return factory(base), nil
	}
	return coreReifier(base)
}

// coreReifier must list every core kind
func coreReifier(base *ProcessorReifier) (Reifier, error) {
	switch base.node.Kind {
	case types.KindAggregate:
		return &aggregateReifier{base}, nil
	case types.KindProcess:
		return &processReifier{base}, nil
	case types.KindCatch:
		return &catchReifier{base}, nil
	case types.KindChoice:
		return &choiceReifier{base}, nil
	case types.KindCircuitBreaker:
		return &circuitBreakerReifier{base}, nil
	case types.KindDelay:
		return &delayReifier{base}, nil
	case types.KindDynamicRouter:
		return &dynamicRouterReifier{base}, nil
	case types.KindEnrich:
		return &enrichReifier{base}, nil
	case types.KindFilter:
		return &filterReifier{base}, nil
	case types.KindFinally:
		return &finallyReifier{base}, nil
	case types.KindIdempotentConsumer:
		return &idempotentConsumerReifier{base}, nil
	case types.KindIntercept:
		return &interceptReifier{base}, nil
	case types.KindInterceptFrom:
		return &interceptFromReifier{base}, nil
	case types.KindInterceptSendToEndpoint:
		return &interceptSendToEndpointReifier{base}, nil
	case types.KindLoadBalance:
		return &loadBalanceReifier{base}, nil
	case types.KindLoop:
		return &loopReifier{base}, nil
	case types.KindLog:
		return &logReifier{base}, nil
	case types.KindMulticast:
		return &multicastReifier{base}, nil
	case types.KindOnCompletion:
		return &onCompletionReifier{base}, nil
	case types.KindOnException:
		return &onExceptionReifier{base}, nil
	case types.KindOnFallback:
		return &onFallbackReifier{base}, nil
	case types.KindOtherwise:
		return &otherwiseReifier{base}, nil
	case types.KindPipeline:
		return &pipelineReifier{base}, nil
	case types.KindPolicy:
		return &policyReifier{base}, nil
	case types.KindRecipientList:
		return &recipientListReifier{base}, nil
	case types.KindRemoveHeader:
		return &removeHeaderReifier{base}, nil
	case types.KindRemoveProperty:
		return &removePropertyReifier{base}, nil
	case types.KindResequence:
		return &resequenceReifier{base}, nil
	case types.KindRollback:
		return &rollbackReifier{base}, nil
	case types.KindRoutingSlip:
		return &routingSlipReifier{base}, nil
	case types.KindSaga:
		return &sagaReifier{base}, nil
	case types.KindSampling:
		return &samplingReifier{base}, nil
	case types.KindSetBody:
		return &setBodyReifier{base}, nil
	case types.KindSetHeader:
		return &setHeaderReifier{base}, nil
	case types.KindSetProperty:
		return &setPropertyReifier{base}, nil
	case types.KindSort:
		return &sortReifier{base}, nil
	case types.KindSplit:
		return &splitReifier{base}, nil
	case types.KindStep:
		return &stepReifier{base}, nil
	case types.KindStop:
		return &stopReifier{base}, nil
	case types.KindThreads:
		return &threadsReifier{base}, nil
	case types.KindThrottle:
		return &throttleReifier{base}, nil
	case types.KindThrowException:
		return &throwExceptionReifier{base}, nil
	case types.KindTo:
		return &toReifier{base}, nil
	case types.KindToD:
		return &toDynamicReifier{base}, nil
	case types.KindTransacted:
		return &transactedReifier{base}, nil
	case types.KindTransform:
		return &transformReifier{base}, nil
	case types.KindTry:
		return &tryReifier{base}, nil
	case types.KindValidate:
		return &validateReifier{base}, nil
	case types.KindWhen:
		return &whenReifier{base}, nil
	case types.KindWireTap:
		return &wireTapReifier{base}, nil
	}
	return nil, types.NewIllegalStateError("cannot find reifier for node kind %s of node %s", base.node.Kind, base.node.Id)
}
