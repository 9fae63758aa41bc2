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

package cast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect int
		hasErr bool
	}{
		{"int", 123, 123, false},
		{"int8", int8(123), 123, false},
		{"int64", int64(123), 123, false},
		{"uint16", uint16(123), 123, false},
		{"uint64", uint64(123), 123, false},
		{"float64", 1.1, 1, false},
		{"float32", float32(1.1), 1, false},
		{"string", "123", 123, false},
		{"float string", " 12.5 ", 12, false},
		{"invalid string", "abc", 0, true},
		{"invalid type", []int{1, 2, 3}, 0, true},
		{"nil", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ToInt(tt.input))
			_, err := ToIntE(tt.input)
			assert.Equal(t, tt.hasErr, err != nil)
		})
	}
}

func TestToDuration(t *testing.T) {
	d, err := ToDurationE("5s")
	assert.Nil(t, err)
	assert.Equal(t, 5*time.Second, d)
	d, err = ToDurationE(int64(10))
	assert.Nil(t, err)
	assert.Equal(t, time.Duration(10), d)
	_, err = ToDurationE("5x")
	assert.NotNil(t, err)

	d, err = ToMillisE(1500)
	assert.Nil(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
	d, err = ToMillisE("250")
	assert.Nil(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	d, err = ToMillisE("2s")
	assert.Nil(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestToBool(t *testing.T) {
	tests := []struct {
		input  interface{}
		expect bool
		hasErr bool
	}{
		{true, true, false},
		{"true", true, false},
		{"false", false, false},
		{1, true, false},
		{0.0, false, false},
		{"abc", false, true},
		{nil, false, true},
	}
	for _, tt := range tests {
		v, err := ToBoolE(tt.input)
		assert.Equal(t, tt.expect, v, "%v", tt.input)
		assert.Equal(t, tt.hasErr, err != nil, "%v", tt.input)
	}
	assert.True(t, ParseBool("", true))
	assert.False(t, ParseBool("false", true))
	assert.True(t, ParseBool("bad", true))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "123", ToString(123))
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, `{"a":1}`, ToString(map[string]int{"a": 1}))
}

func TestToSlice(t *testing.T) {
	assert.Equal(t, []interface{}{1, 2}, ToSlice([]int{1, 2}))
	assert.Equal(t, []interface{}{"a", "b"}, ToSlice([]string{"a", "b"}))
	assert.Equal(t, []interface{}{"a"}, ToSlice("a"))
	assert.Nil(t, ToSlice(nil))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(2, 10))
	assert.Equal(t, 1, Compare(int64(10), 2.5))
	assert.Equal(t, 0, Compare(3, 3.0))
	assert.Equal(t, 1, Compare("b", "a"))
	// strings compare lexicographically
	assert.Equal(t, 1, Compare("2", "10"))
	now := time.Now()
	assert.Equal(t, -1, Compare(now, now.Add(time.Second)))
}
