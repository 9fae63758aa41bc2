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

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
)

func TestMarshalExchange(t *testing.T) {
	exchange := types.NewExchange(context.Background(), "payload")
	exchange.Pattern = types.InOut
	exchange.SetHeader("name", "order")
	exchange.SetHeader("count", 3)
	exchange.SetHeader("callback", func() {})
	exchange.SetProperty(types.PropertyAggregatedSize, 2)
	exchange.SetProperty(types.PropertyAggregatedCorrelationKey, "k1")
	exchange.SetProperty("done", make(chan struct{}))
	SetVersion(exchange, 7)
	exchange.FromRouteId = "orders"
	exchange.SetRollbackOnly(true)
	exchange.SetErr(errors.New("failed"))

	data, err := Marshal(exchange)
	require.NoError(t, err)
	decoded, err := Unmarshal(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, exchange.Id(), decoded.Id())
	assert.Equal(t, types.InOut, decoded.Pattern)
	assert.Equal(t, "payload", decoded.Body())
	assert.Equal(t, "order", decoded.Header("name"))
	assert.Equal(t, int64(3), decoded.Header("count"))
	assert.Nil(t, decoded.Header("callback"))
	assert.Equal(t, int64(2), decoded.Property(types.PropertyAggregatedSize))
	assert.Equal(t, "k1", decoded.Property(types.PropertyAggregatedCorrelationKey))
	assert.False(t, decoded.HasProperty("done"))
	assert.Equal(t, int64(0), Version(decoded))
	assert.Equal(t, "orders", decoded.FromRouteId)
	assert.True(t, decoded.IsRollbackOnly())
	require.Error(t, decoded.Err())
	assert.Equal(t, "failed", decoded.Err().Error())
}

func TestMarshalGroupedBody(t *testing.T) {
	exchange := types.NewExchange(context.Background(), []interface{}{"a", "b", map[string]interface{}{"n": 1.5}})
	data, err := Marshal(exchange)
	require.NoError(t, err)
	decoded, err := Unmarshal(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", map[string]interface{}{"n": 1.5}}, decoded.Body())
}

func TestMarshalErrors(t *testing.T) {
	_, err := Marshal(nil)
	assert.True(t, types.IsIllegalArgument(err))

	_, err = Marshal(types.NewExchange(context.Background(), make(chan int)))
	assert.Error(t, err)

	_, err = Unmarshal(context.Background(), []byte{0xc1})
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, int64(0), Version(nil))
	exchange := types.NewExchange(context.Background(), nil)
	assert.Equal(t, int64(0), Version(exchange))
	SetVersion(exchange, 3)
	assert.Equal(t, int64(3), Version(exchange))
}
