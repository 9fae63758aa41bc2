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

// Package log provides the log: endpoint, which writes the exchanges it receives to the engine logger.
//
// Uri format: log:name[?level=INFO&showHeaders=true&showProperties=false&groupSize=0]
//
// Package log 日志端点
package log

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/base"
	"github.com/rulego/routego/utils/json"
	"github.com/rulego/routego/utils/str"
)

// Scheme uri scheme
const Scheme = "log"

// Config endpoint parameters
type Config struct {
	// Level TRACE, DEBUG, INFO, WARN, ERROR or OFF
	Level          string
	ShowBody       bool
	ShowHeaders    bool
	ShowProperties bool
	ShowExchangeId bool
	// GroupSize logs one throughput line every GroupSize exchanges instead of each exchange
	GroupSize int64
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{Level: "INFO", ShowBody: true, ShowHeaders: true}
}

// Component creates log endpoints
type Component struct{}

// New creates a log component
func New() *Component {
	return &Component{}
}

func (c *Component) Scheme() string {
	return Scheme
}

func (c *Component) CreateEndpoint(ctx types.EngineContext, uri string, remaining string, params map[string]string) (types.Endpoint, error) {
	config := DefaultConfig()
	if err := base.DecodeParams(uri, params, &config); err != nil {
		return nil, err
	}
	config.Level = strings.ToUpper(config.Level)
	switch config.Level {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF":
	default:
		return nil, types.NewIllegalArgumentError("invalid level %s of endpoint %s", config.Level, uri)
	}
	if remaining == "" {
		remaining = Scheme
	}
	return &Endpoint{DefaultEndpoint: base.NewDefaultEndpoint(ctx, uri, remaining), Config: config}, nil
}

// Endpoint log:name
type Endpoint struct {
	base.DefaultEndpoint
	Config Config
}

func (e *Endpoint) CreateProducer() (types.Producer, error) {
	return &Producer{endpoint: e, logger: e.Logger(), groupStart: time.Now()}, nil
}

func (e *Endpoint) CreateConsumer(processor types.Processor) (types.Consumer, error) {
	return nil, base.NotSupported(e.Uri(), "consumers")
}

// Producer logs exchanges
type Producer struct {
	endpoint   *Endpoint
	logger     types.Logger
	mu         sync.Mutex
	count      int64
	groupStart time.Time
}

func (p *Producer) Endpoint() types.Endpoint {
	return p.endpoint
}

func (p *Producer) Start(ctx context.Context) error {
	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	return nil
}

func (p *Producer) Process(exchange *types.Exchange) error {
	config := p.endpoint.Config
	if config.Level == "OFF" {
		return nil
	}
	if config.GroupSize > 0 {
		p.mu.Lock()
		p.count++
		if p.count%config.GroupSize != 0 {
			p.mu.Unlock()
			return nil
		}
		elapsed := time.Since(p.groupStart)
		p.groupStart = time.Now()
		total := p.count
		p.mu.Unlock()
		rate := float64(config.GroupSize) / elapsed.Seconds()
		types.LogAt(p.logger, config.Level, "[%s] received %d new exchanges, total %d, last group took %s, %.2f exchanges per second",
			p.endpoint.Name, config.GroupSize, total, elapsed, rate)
		return nil
	}
	types.LogAt(p.logger, config.Level, "[%s] %s", p.endpoint.Name, Format(exchange, config))
	return nil
}

// Format renders the parts of the exchange selected by config
func Format(exchange *types.Exchange, config Config) string {
	var parts []string
	if config.ShowExchangeId {
		parts = append(parts, "Id: "+exchange.Id())
	}
	if config.ShowHeaders {
		parts = append(parts, "Headers: "+toJson(exchange.Message().Headers))
	}
	if config.ShowProperties {
		parts = append(parts, "Properties: "+toJson(exchange.Properties()))
	}
	if config.ShowBody {
		parts = append(parts, "Body: "+str.ToString(exchange.Body()))
	}
	return "Exchange[" + strings.Join(parts, ", ") + "]"
}

func toJson(v interface{}) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return str.ToString(v)
}
