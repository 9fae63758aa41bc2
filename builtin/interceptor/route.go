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
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

var (
	_ types.InterceptStrategy = (*MessageHistory)(nil)
	_ types.InterceptStrategy = (*Delayer)(nil)
	_ types.InterceptStrategy = (*StreamCaching)(nil)
)

// HistoryEntry one node an exchange went through
type HistoryEntry struct {
	RouteId string
	NodeId  string
	Kind    types.NodeKind
	Time    time.Time
	Elapsed time.Duration
}

// History the entries recorded on an exchange, in order
// History 消息历史
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func (h *History) add(entry HistoryEntry) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return len(h.entries) - 1
}

func (h *History) done(index int, elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[index].Elapsed = elapsed
}

// Entries a copy of the recorded entries
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// NodeIds the ids of the recorded nodes
func (h *History) NodeIds() []string {
	var ids []string
	for _, e := range h.Entries() {
		ids = append(ids, e.NodeId)
	}
	return ids
}

// HistoryOf the history recorded on exchange, nil when there is none
func HistoryOf(exchange *types.Exchange) *History {
	h, _ := exchange.Property(types.PropertyMessageHistory).(*History)
	return h
}

// MessageHistory records every node an exchange goes through in the
// MessageHistory property. Entries are added when the node is entered.
type MessageHistory struct {
}

func NewMessageHistory() *MessageHistory {
	return &MessageHistory{}
}

func (i *MessageHistory) Order() int {
	return 10
}

func (i *MessageHistory) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	routeId, node := ctx.RouteId, ctx.Node
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		h := HistoryOf(exchange)
		if h == nil {
			h = &History{}
			exchange.SetProperty(types.PropertyMessageHistory, h)
		}
		start := time.Now()
		index := h.add(HistoryEntry{RouteId: routeId, NodeId: node.Id, Kind: node.Kind, Time: start})
		err := types.Run(target, exchange)
		h.done(index, time.Since(start))
		return err
	}), nil
}

// Delayer sleeps before each node, used to slow routes down while debugging
// Delayer 延迟拦截器
type Delayer struct {
	Delay time.Duration
}

func NewDelayer(delay time.Duration) *Delayer {
	return &Delayer{Delay: delay}
}

func (i *Delayer) Order() int {
	return 100
}

func (i *Delayer) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	if i.Delay <= 0 {
		return target, nil
	}
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		if err := processor.Sleep(exchange.Context(), i.Delay); err != nil {
			exchange.SetErr(err)
			return err
		}
		return types.Run(target, exchange)
	}), nil
}

// StreamCache a body read from an io.Reader, readable again after Reset
// StreamCache 可重复读取的流缓存
type StreamCache struct {
	*bytes.Reader
	data []byte
}

func NewStreamCache(data []byte) *StreamCache {
	return &StreamCache{Reader: bytes.NewReader(data), data: data}
}

// Reset rewinds the cache
func (c *StreamCache) Reset() {
	c.Reader.Reset(c.data)
}

// Bytes the cached content
func (c *StreamCache) Bytes() []byte {
	return c.data
}

// StreamCaching replaces io.Reader bodies with a StreamCache before a node
// runs, and rewinds the cache before every following node.
type StreamCaching struct {
}

func NewStreamCaching() *StreamCaching {
	return &StreamCaching{}
}

func (i *StreamCaching) Order() int {
	return -100
}

func (i *StreamCaching) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		switch body := exchange.Body().(type) {
		case *StreamCache:
			body.Reset()
		case io.Reader:
			data, err := io.ReadAll(body)
			if closer, ok := body.(io.Closer); ok {
				_ = closer.Close()
			}
			if err != nil {
				err = types.NewExchangeError(exchange, err, "cannot cache stream body")
				exchange.SetErr(err)
				return err
			}
			exchange.SetBody(NewStreamCache(data))
		}
		return types.Run(target, exchange)
	}), nil
}
