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
	"fmt"
	"strconv"
)

// NodeKind the closed set of pattern node kinds.
// NodeKind 节点类型
type NodeKind string

const (
	KindAggregate               NodeKind = "aggregate"
	KindProcess                 NodeKind = "process"
	KindCatch                   NodeKind = "catch"
	KindChoice                  NodeKind = "choice"
	KindCircuitBreaker          NodeKind = "circuitBreaker"
	KindDelay                   NodeKind = "delay"
	KindDynamicRouter           NodeKind = "dynamicRouter"
	KindEnrich                  NodeKind = "enrich"
	KindFilter                  NodeKind = "filter"
	KindFinally                 NodeKind = "finally"
	KindIdempotentConsumer      NodeKind = "idempotentConsumer"
	KindIntercept               NodeKind = "intercept"
	KindInterceptFrom           NodeKind = "interceptFrom"
	KindInterceptSendToEndpoint NodeKind = "interceptSendToEndpoint"
	KindLoadBalance             NodeKind = "loadBalance"
	KindLoop                    NodeKind = "loop"
	KindLog                     NodeKind = "log"
	KindMulticast               NodeKind = "multicast"
	KindOnCompletion            NodeKind = "onCompletion"
	KindOnException             NodeKind = "onException"
	KindOnFallback              NodeKind = "onFallback"
	KindOtherwise               NodeKind = "otherwise"
	KindPipeline                NodeKind = "pipeline"
	KindPolicy                  NodeKind = "policy"
	KindRecipientList           NodeKind = "recipientList"
	KindRemoveHeader            NodeKind = "removeHeader"
	KindRemoveProperty          NodeKind = "removeProperty"
	KindResequence              NodeKind = "resequence"
	KindRollback                NodeKind = "rollback"
	KindRoutingSlip             NodeKind = "routingSlip"
	KindSaga                    NodeKind = "saga"
	KindSampling                NodeKind = "sampling"
	KindSetBody                 NodeKind = "setBody"
	KindSetHeader               NodeKind = "setHeader"
	KindSetProperty             NodeKind = "setProperty"
	KindSort                    NodeKind = "sort"
	KindSplit                   NodeKind = "split"
	KindStep                    NodeKind = "step"
	KindStop                    NodeKind = "stop"
	KindThreads                 NodeKind = "threads"
	KindThrottle                NodeKind = "throttle"
	KindThrowException          NodeKind = "throwException"
	KindTo                      NodeKind = "to"
	KindToD                     NodeKind = "toD"
	KindTransacted              NodeKind = "transacted"
	KindTransform               NodeKind = "transform"
	KindTry                     NodeKind = "try"
	KindValidate                NodeKind = "validate"
	KindWhen                    NodeKind = "when"
	KindWireTap                 NodeKind = "wireTap"
)

// NodeKinds returns every core node kind
func NodeKinds() []NodeKind {
	return []NodeKind{
		KindAggregate, KindProcess, KindCatch, KindChoice, KindCircuitBreaker, KindDelay, KindDynamicRouter,
		KindEnrich, KindFilter, KindFinally, KindIdempotentConsumer, KindIntercept, KindInterceptFrom,
		KindInterceptSendToEndpoint, KindLoadBalance, KindLoop, KindLog, KindMulticast,
		KindOnCompletion, KindOnException, KindOnFallback, KindOtherwise, KindPipeline, KindPolicy,
		KindRecipientList, KindRemoveHeader, KindRemoveProperty, KindResequence, KindRollback,
		KindRoutingSlip, KindSaga, KindSampling, KindSetBody, KindSetHeader, KindSetProperty,
		KindSort, KindSplit, KindStep, KindStop, KindThreads, KindThrottle, KindThrowException, KindTo, KindToD,
		KindTransacted, KindTransform, KindTry, KindValidate, KindWhen, KindWireTap,
	}
}

// IsCore reports whether k belongs to the core node kinds
func (k NodeKind) IsCore() bool {
	for _, item := range NodeKinds() {
		if item == k {
			return true
		}
	}
	return false
}

// NodeId index of a node in its route arena
type NodeId int

// NoParent parent id of top level nodes
const NoParent NodeId = -1

// NodeDefinition a pattern node inside a route arena
// NodeDefinition 路由中的节点定义
type NodeDefinition struct {
	Id            string
	Kind          NodeKind
	Description   string
	Configuration Configuration
	// InheritErrorHandler nil means inherit
	InheritErrorHandler *bool
	// InterceptStrategyRefs node local interceptors
	InterceptStrategyRefs []string
	// Disabled parseable boolean
	Disabled string
	Parent   NodeId
	Outputs  []NodeId
	index    NodeId
}

// Index returns the node's position in its arena
func (n *NodeDefinition) Index() NodeId {
	return n.index
}

func (n *NodeDefinition) String() string {
	return fmt.Sprintf("%s[%s]", n.Kind, n.Id)
}

// RouteDefinition a route: a frozen arena of nodes.
// Nodes are referenced by NodeId. A definition is built once by the builder or
// the DSL parser and frozen; reification only reads it.
//
// RouteDefinition 路由定义：节点存储在同一个切片中，通过 NodeId 引用，构建后冻结，不可修改。
type RouteDefinition struct {
	Id                    string
	Description           string
	Group                 string
	From                  string
	ErrorHandler          *ErrorHandlerDefinition
	Tracing               string
	MessageHistory        string
	StreamCaching         string
	Delayer               string
	AutoStartup           string
	StartupOrder          int
	ShutdownRoute         string
	ShutdownRunningTask   string
	RoutePolicyRefs       []string
	InterceptStrategyRefs []string
	Properties            map[string]string
	// Outputs top level nodes in order
	Outputs []NodeId
	// Nodes the arena
	Nodes  []NodeDefinition
	frozen bool
}

// AddNode appends a node to the arena and returns its id. Links are given by
// Outputs of the parents; Freeze derives Parent from them.
func (r *RouteDefinition) AddNode(node NodeDefinition) (NodeId, error) {
	if r.frozen {
		return NoParent, NewIllegalStateError("route %s is frozen", r.Id)
	}
	id := NodeId(len(r.Nodes))
	node.index = id
	node.Parent = NoParent
	r.Nodes = append(r.Nodes, node)
	return id, nil
}

// AddOutput links child as the next output of parent, NoParent meaning the route itself
func (r *RouteDefinition) AddOutput(parent, child NodeId) error {
	if r.frozen {
		return NewIllegalStateError("route %s is frozen", r.Id)
	}
	if !r.valid(child) {
		return NewIllegalArgumentError("unknown node %d", child)
	}
	if parent == NoParent {
		r.Outputs = append(r.Outputs, child)
		return nil
	}
	if !r.valid(parent) {
		return NewIllegalArgumentError("unknown node %d", parent)
	}
	r.Nodes[parent].Outputs = append(r.Nodes[parent].Outputs, child)
	return nil
}

// Freeze establishes parent links, assigns missing ids and makes the definition immutable.
// Freeze 建立父子关系，分配缺失的ID，并冻结定义
func (r *RouteDefinition) Freeze() error {
	if r.frozen {
		return nil
	}
	counters := make(map[NodeKind]int)
	ids := make(map[string]NodeId)
	for i := range r.Nodes {
		n := &r.Nodes[i]
		n.index = NodeId(i)
		n.Parent = NoParent
		if n.Id == "" {
			continue
		}
		if _, ok := ids[n.Id]; ok {
			return NewIllegalArgumentError("duplicate node id %s in route %s", n.Id, r.Id)
		}
		ids[n.Id] = n.index
	}
	for i := range r.Nodes {
		n := &r.Nodes[i]
		if n.Id != "" {
			continue
		}
		for {
			counters[n.Kind]++
			n.Id = string(n.Kind) + strconv.Itoa(counters[n.Kind])
			if _, exists := ids[n.Id]; !exists {
				break
			}
		}
		ids[n.Id] = n.index
	}
	seen := make(map[NodeId]bool)
	for _, out := range r.Outputs {
		if !r.valid(out) {
			return NewIllegalArgumentError("unknown output %d in route %s", out, r.Id)
		}
		if seen[out] {
			return NewIllegalArgumentError("node %s has more than one parent", r.Nodes[out].Id)
		}
		seen[out] = true
	}
	for i := range r.Nodes {
		for _, out := range r.Nodes[i].Outputs {
			if !r.valid(out) {
				return NewIllegalArgumentError("unknown output %d of node %s", out, r.Nodes[i].Id)
			}
			if seen[out] || out == NodeId(i) {
				return NewIllegalArgumentError("node %s has more than one parent", r.Nodes[out].Id)
			}
			seen[out] = true
			r.Nodes[out].Parent = NodeId(i)
		}
	}
	for i := range r.Nodes {
		if !seen[NodeId(i)] {
			return NewIllegalArgumentError("node %s is not reachable in route %s", r.Nodes[i].Id, r.Id)
		}
	}
	// a cycle would leave a node whose ancestors never reach the route
	for i := range r.Nodes {
		steps := 0
		for p := r.Nodes[i].Parent; p != NoParent; p = r.Nodes[p].Parent {
			if steps++; steps > len(r.Nodes) {
				return NewIllegalArgumentError("cycle detected at node %s", r.Nodes[i].Id)
			}
		}
	}
	r.frozen = true
	return nil
}

// IsFrozen reports whether the definition is immutable
func (r *RouteDefinition) IsFrozen() bool {
	return r.frozen
}

func (r *RouteDefinition) valid(id NodeId) bool {
	return id >= 0 && int(id) < len(r.Nodes)
}

// Node returns the node for id or nil
func (r *RouteDefinition) Node(id NodeId) *NodeDefinition {
	if !r.valid(id) {
		return nil
	}
	return &r.Nodes[id]
}

// NodeById finds a node by its string id
func (r *RouteDefinition) NodeById(id string) *NodeDefinition {
	for i := range r.Nodes {
		if r.Nodes[i].Id == id {
			return &r.Nodes[i]
		}
	}
	return nil
}

// Children returns the output nodes of id
func (r *RouteDefinition) Children(id NodeId) []*NodeDefinition {
	n := r.Node(id)
	if n == nil {
		return nil
	}
	children := make([]*NodeDefinition, 0, len(n.Outputs))
	for _, out := range n.Outputs {
		children = append(children, &r.Nodes[out])
	}
	return children
}

// ParentOf returns the parent node or nil for top level nodes
func (r *RouteDefinition) ParentOf(id NodeId) *NodeDefinition {
	n := r.Node(id)
	if n == nil || n.Parent == NoParent {
		return nil
	}
	return &r.Nodes[n.Parent]
}

// IsParentOfKind reports whether an ancestor of id has one of the kinds.
// With recursive false only the direct parent is checked.
func (r *RouteDefinition) IsParentOfKind(id NodeId, recursive bool, kinds ...NodeKind) bool {
	n := r.Node(id)
	if n == nil {
		return false
	}
	for p := n.Parent; p != NoParent; p = r.Nodes[p].Parent {
		for _, k := range kinds {
			if r.Nodes[p].Kind == k {
				return true
			}
		}
		if !recursive {
			return false
		}
	}
	return false
}

// ToDsl converts the definition to its serialized form
func (r *RouteDefinition) ToDsl() RouteDsl {
	dsl := RouteDsl{
		Route: RouteBaseInfo{
			Id:                  r.Id,
			Description:         r.Description,
			Group:               r.Group,
			From:                r.From,
			ErrorHandler:        r.ErrorHandler,
			Tracing:             r.Tracing,
			MessageHistory:      r.MessageHistory,
			StreamCaching:       r.StreamCaching,
			Delayer:             r.Delayer,
			AutoStartup:         r.AutoStartup,
			StartupOrder:        r.StartupOrder,
			ShutdownRoute:       r.ShutdownRoute,
			ShutdownRunningTask: r.ShutdownRunningTask,
			RoutePolicies:       r.RoutePolicyRefs,
			InterceptStrategies: r.InterceptStrategyRefs,
			Properties:          r.Properties,
		},
	}
	for _, out := range r.Outputs {
		dsl.Metadata.Outputs = append(dsl.Metadata.Outputs, r.Nodes[out].Id)
	}
	for i := range r.Nodes {
		n := &r.Nodes[i]
		dsl.Metadata.Nodes = append(dsl.Metadata.Nodes, &NodeDsl{
			Id:                  n.Id,
			Kind:                n.Kind,
			Description:         n.Description,
			Configuration:       n.Configuration,
			InheritErrorHandler: n.InheritErrorHandler,
			InterceptStrategies: n.InterceptStrategyRefs,
			Disabled:            n.Disabled,
		})
		for _, out := range n.Outputs {
			dsl.Metadata.Connections = append(dsl.Metadata.Connections, NodeConnection{FromId: n.Id, ToId: r.Nodes[out].Id})
		}
	}
	return dsl
}

// NewRouteDefinitionFromDsl builds and freezes a definition from its serialized form
// NewRouteDefinitionFromDsl 从DSL构建路由定义
func NewRouteDefinitionFromDsl(dsl RouteDsl) (*RouteDefinition, error) {
	r := &RouteDefinition{
		Id:                    dsl.Route.Id,
		Description:           dsl.Route.Description,
		Group:                 dsl.Route.Group,
		From:                  dsl.Route.From,
		ErrorHandler:          dsl.Route.ErrorHandler,
		Tracing:               dsl.Route.Tracing,
		MessageHistory:        dsl.Route.MessageHistory,
		StreamCaching:         dsl.Route.StreamCaching,
		Delayer:               dsl.Route.Delayer,
		AutoStartup:           dsl.Route.AutoStartup,
		StartupOrder:          dsl.Route.StartupOrder,
		ShutdownRoute:         dsl.Route.ShutdownRoute,
		ShutdownRunningTask:   dsl.Route.ShutdownRunningTask,
		RoutePolicyRefs:       dsl.Route.RoutePolicies,
		InterceptStrategyRefs: dsl.Route.InterceptStrategies,
		Properties:            dsl.Route.Properties,
	}
	ids := make(map[string]NodeId, len(dsl.Metadata.Nodes))
	for _, n := range dsl.Metadata.Nodes {
		if n == nil {
			continue
		}
		if n.Id == "" {
			return nil, NewIllegalArgumentError("node id is required in route %s", r.Id)
		}
		if _, ok := ids[n.Id]; ok {
			return nil, NewIllegalArgumentError("duplicate node id %s in route %s", n.Id, r.Id)
		}
		id, _ := r.AddNode(NodeDefinition{
			Id:                    n.Id,
			Kind:                  n.Kind,
			Description:           n.Description,
			Configuration:         n.Configuration,
			InheritErrorHandler:   n.InheritErrorHandler,
			InterceptStrategyRefs: n.InterceptStrategies,
			Disabled:              n.Disabled,
		})
		ids[n.Id] = id
	}
	for _, out := range dsl.Metadata.Outputs {
		id, ok := ids[out]
		if !ok {
			return nil, NewIllegalArgumentError("unknown output node %s in route %s", out, r.Id)
		}
		_ = r.AddOutput(NoParent, id)
	}
	for _, c := range dsl.Metadata.Connections {
		from, ok := ids[c.FromId]
		if !ok {
			return nil, NewIllegalArgumentError("unknown connection source %s in route %s", c.FromId, r.Id)
		}
		to, ok := ids[c.ToId]
		if !ok {
			return nil, NewIllegalArgumentError("unknown connection target %s in route %s", c.ToId, r.Id)
		}
		_ = r.AddOutput(from, to)
	}
	if err := r.Freeze(); err != nil {
		return nil, err
	}
	return r, nil
}
