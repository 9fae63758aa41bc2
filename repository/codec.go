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

// Package repository holds the persistent aggregation repositories and the
// codec they share to store exchanges.
//
// Package repository 持久化聚合仓库，redis 与 sql 两种实现共用交换编解码
package repository

import (
	"bytes"
	"context"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
)

// exchangeHolder the stored form of an exchange. Headers and properties whose
// values cannot be encoded are left out.
type exchangeHolder struct {
	Id           string                 `msgpack:"id"`
	Pattern      int                    `msgpack:"pattern"`
	Body         interface{}            `msgpack:"body"`
	Headers      map[string]interface{} `msgpack:"headers,omitempty"`
	Properties   map[string]interface{} `msgpack:"properties,omitempty"`
	FromRouteId  string                 `msgpack:"fromRouteId,omitempty"`
	FromEndpoint string                 `msgpack:"fromEndpoint,omitempty"`
	RollbackOnly bool                   `msgpack:"rollbackOnly,omitempty"`
	Error        string                 `msgpack:"error,omitempty"`
}

// Marshal encodes exchange with msgpack. The aggregation version is not part
// of the encoded form, repositories keep it next to the data.
// Marshal 使用 msgpack 编码交换
func Marshal(exchange *types.Exchange) ([]byte, error) {
	if exchange == nil {
		return nil, types.NewIllegalArgumentError("cannot marshal a nil exchange")
	}
	holder := exchangeHolder{
		Id:           exchange.Id(),
		Pattern:      int(exchange.Pattern),
		Body:         exchange.Body(),
		Headers:      encodable(exchange.In.Headers),
		Properties:   encodable(exchange.Properties()),
		FromRouteId:  exchange.FromRouteId,
		FromEndpoint: exchange.FromEndpoint,
		RollbackOnly: exchange.IsRollbackOnly(),
	}
	delete(holder.Properties, types.PropertyAggregatedVersion)
	if err := exchange.Err(); err != nil {
		holder.Error = err.Error()
	}
	data, err := msgpack.Marshal(&holder)
	if err != nil {
		return nil, xerrors.Errorf("marshal exchange %s: %w", exchange.Id(), err)
	}
	return data, nil
}

// Unmarshal decodes an exchange encoded by Marshal. Integers are decoded as
// int64 or uint64 and floats as float64.
// Unmarshal 解码交换
func Unmarshal(ctx context.Context, data []byte) (*types.Exchange, error) {
	var holder exchangeHolder
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&holder); err != nil {
		return nil, xerrors.Errorf("unmarshal exchange: %w", err)
	}
	exchange := types.NewExchange(ctx, holder.Body)
	exchange.SetId(holder.Id)
	exchange.Pattern = types.ExchangePattern(holder.Pattern)
	for k, v := range holder.Headers {
		exchange.SetHeader(k, v)
	}
	for k, v := range holder.Properties {
		exchange.SetProperty(k, v)
	}
	exchange.FromRouteId = holder.FromRouteId
	exchange.FromEndpoint = holder.FromEndpoint
	exchange.SetRollbackOnly(holder.RollbackOnly)
	if holder.Error != "" {
		exchange.SetErr(xerrors.New(holder.Error))
	}
	return exchange, nil
}

// Version the aggregation version of exchange, 0 when it was never stored
func Version(exchange *types.Exchange) int64 {
	if exchange == nil {
		return 0
	}
	return cast.ToInt64(exchange.Property(types.PropertyAggregatedVersion))
}

// SetVersion records the aggregation version on exchange
func SetVersion(exchange *types.Exchange, version int64) {
	if exchange != nil {
		exchange.SetProperty(types.PropertyAggregatedVersion, version)
	}
}

func encodable(values map[string]interface{}) map[string]interface{} {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(values))
	for k, v := range values {
		if _, err := msgpack.Marshal(v); err == nil {
			result[k] = v
		}
	}
	return result
}
