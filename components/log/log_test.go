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

package log

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rulego/routego/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineContext struct {
	config types.Config
}

func (c *engineContext) ResolveEndpoint(uri string) (types.Endpoint, error) {
	return nil, &types.LookupError{Name: uri, Type: "endpoint"}
}

func (c *engineContext) Config() types.Config {
	return c.config
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestLogEndpoint(t *testing.T) {
	logger := &recordingLogger{}
	ctx := &engineContext{config: types.NewConfig(types.WithLogger(logger))}
	endpoint, err := New().CreateEndpoint(ctx, "log:orders?showProperties=true", "orders", map[string]string{"showProperties": "true"})
	require.NoError(t, err)
	producer, err := endpoint.CreateProducer()
	require.NoError(t, err)

	ex := types.NewExchange(context.Background(), "hello")
	ex.SetHeader("b", 2)
	ex.SetHeader("a", 1)
	ex.SetProperty("p", "v")
	assert.NoError(t, producer.Process(ex))

	lines := logger.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, `INFO [orders] Exchange[Headers: {"a":1,"b":2}, Properties: {"p":"v"}, Body: hello]`, lines[0])

	_, err = endpoint.CreateConsumer(types.ProcessorFunc(func(exchange *types.Exchange) error { return nil }))
	assert.Error(t, err)
}

func TestLogGroupSize(t *testing.T) {
	logger := &recordingLogger{}
	ctx := &engineContext{config: types.NewConfig(types.WithLogger(logger))}
	endpoint, err := New().CreateEndpoint(ctx, "log:tp?groupSize=3", "tp", map[string]string{"groupSize": "3"})
	require.NoError(t, err)
	producer, _ := endpoint.CreateProducer()
	for i := 0; i < 7; i++ {
		assert.NoError(t, producer.Process(types.NewExchange(context.Background(), i)))
	}
	lines := logger.Lines()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "INFO [tp] received 3 new exchanges, total 3"))
	assert.True(t, strings.HasPrefix(lines[1], "INFO [tp] received 3 new exchanges, total 6"))
}

func TestLogLevels(t *testing.T) {
	logger := &recordingLogger{}
	ctx := &engineContext{config: types.NewConfig(types.WithLogger(logger))}
	off, err := New().CreateEndpoint(ctx, "log:quiet?level=off", "quiet", map[string]string{"level": "off"})
	require.NoError(t, err)
	producer, _ := off.CreateProducer()
	assert.NoError(t, producer.Process(types.NewExchange(context.Background(), "x")))
	assert.Empty(t, logger.Lines())

	_, err = New().CreateEndpoint(ctx, "log:x?level=LOUD", "x", map[string]string{"level": "LOUD"})
	assert.True(t, types.IsIllegalArgument(err))

	ex := types.NewExchange(context.Background(), "b")
	assert.Equal(t, "Exchange[Id: "+ex.Id()+", Body: b]", Format(ex, Config{ShowExchangeId: true, ShowBody: true}))
}
