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

// Package cast converts expression results and configuration values.
package cast

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rulego/routego/utils/json"
)

// ToInt converts an interface{} to int.
// It returns 0 if conversion fails.
func ToInt(value interface{}) int {
	v, _ := ToInt64E(value)
	return int(v)
}

// ToIntE converts an interface{} to int with error handling.
func ToIntE(value interface{}) (int, error) {
	v, err := ToInt64E(value)
	return int(v), err
}

// ToInt64 converts an interface{} to int64.
// It returns 0 if conversion fails.
func ToInt64(value interface{}) int64 {
	v, _ := ToInt64E(value)
	return v
}

// ToInt64E converts numbers, numeric strings and durations to int64
func ToInt64E(value interface{}) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("unable to cast nil to int64")
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case time.Duration:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("unable to cast %q to int64", v)
		}
		return int64(f), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	}
	return 0, fmt.Errorf("unable to cast %v of type %T to int64", value, value)
}

// ToDurationE converts an interface{} to time.Duration. Numbers are nanoseconds,
// strings are parsed with time.ParseDuration.
func ToDurationE(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	}
	n, err := ToInt64E(value)
	return time.Duration(n), err
}

// ToMillisE converts a value given in milliseconds to a duration. Strings with
// a unit, such as "5s", are parsed as durations.
// ToMillisE 把毫秒值转换为 time.Duration，带单位的字符串按 duration 解析
func ToMillisE(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	}
	n, err := ToInt64E(value)
	return time.Duration(n) * time.Millisecond, err
}

// ToBool converts an interface{} to bool.
// It returns false if conversion fails.
func ToBool(value interface{}) bool {
	v, _ := ToBoolE(value)
	return v
}

// ToBoolE converts bools, numbers and parseable strings to bool
func ToBoolE(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, nil
		}
		return false, fmt.Errorf("unable to cast %q to bool", v)
	case nil:
		return false, fmt.Errorf("unable to cast nil to bool")
	}
	if f, err := ToFloat64E(value); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("unable to cast %v of type %T to bool", value, value)
}

// ParseBool parses a configuration boolean, returning def when s is empty or invalid
// ParseBool 解析配置中的布尔值，为空或无效时返回默认值
func ParseBool(s string, def bool) bool {
	if strings.TrimSpace(s) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

// ToFloat64 converts an interface{} to float64.
// It returns 0 if conversion fails.
func ToFloat64(value interface{}) float64 {
	v, _ := ToFloat64E(value)
	return v
}

// ToFloat64E converts numbers and numeric strings to float64
func ToFloat64E(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case nil:
		return 0, fmt.Errorf("unable to cast nil to float64")
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("unable to cast %v of type %T to float64", value, value)
}

// ToString converts an interface{} to string.
// It returns empty string if conversion fails.
func ToString(input interface{}) string {
	v, _ := ToStringE(input)
	return v
}

// ToStringE converts scalars directly and everything else to json
func ToStringE(input interface{}) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case fmt.Stringer:
		return v.String(), nil
	case error:
		return v.Error(), nil
	}
	rv := reflect.ValueOf(input)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToSlice flattens slices, arrays and iterators to []interface{}. A scalar becomes a one element slice.
// ToSlice 把切片或数组转换为 []interface{}
func ToSlice(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return []interface{}{value}
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []interface{}{value}
}

// Compare natural order: numbers numerically, times chronologically,
// everything else by string value. Returns -1, 0 or 1.
// Compare 自然排序比较：数字按数值，时间按先后，其他按字符串
func Compare(a, b interface{}) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}
	if isNumber(a) && isNumber(b) {
		fa, _ := ToFloat64E(a)
		fb, _ := ToFloat64E(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(ToString(a), ToString(b))
}

func isNumber(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
