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

// Package maps decodes node configuration maps into typed structs and reads nested values.
package maps

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Map2Struct Decode takes an input structure and uses reflection to translate it to
// the output structure. output must be a pointer to a map or struct.
// Input is weakly typed: "5" decodes into an int, "true" into a bool and
// "5s" into a time.Duration. Slices and maps of output are replaced, not merged.
func Map2Struct(input interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Get 获取map中的字段，支持嵌套字段查找，例如：address.city
// 如果字段不存在，返回nil
func Get(input interface{}, fieldName string) interface{} {
	if fieldName == "" {
		return nil
	}
	var current = input
	for _, name := range strings.Split(fieldName, ".") {
		if name == "" {
			return nil
		}
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[name]
		case map[string]string:
			value, ok := v[name]
			if !ok {
				return nil
			}
			current = value
		default:
			rv := reflect.ValueOf(current)
			if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			value := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
			if !value.IsValid() {
				return nil
			}
			current = value.Interface()
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// Copy returns a shallow copy of a map
func Copy(input map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(input))
	for k, v := range input {
		result[k] = v
	}
	return result
}
