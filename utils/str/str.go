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

// Package str provides string helpers: ${} placeholder substitution,
// conversion to string and delimiter splitting.
package str

import (
	"regexp"
	"strings"

	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/maps"
)

// 正则表达式匹配 ${aa} 或 ${aa.bb}
var tplVarRegex = regexp.MustCompile(`\$\{ *([^}]+) *\}`)

// ExecuteTemplate 替换字符串模板中的${}变量
// original是一个字符串，包含${key}形式的变量占位符。支持多级变量如：${key.subKey}
// Example: ExecuteTemplate("Hello,${name}",map[string]interface{}{"name":"Alice"}). return "Hello,Alice".
// 如果没匹配到变量，则保留原样
func ExecuteTemplate(original string, dict map[string]interface{}) string {
	return tplVarRegex.ReplaceAllStringFunc(original, func(s string) string {
		matches := tplVarRegex.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		v := maps.Get(dict, strings.TrimSpace(matches[1]))
		if v == nil {
			return s
		}
		return ToString(v)
	})
}

// SprintfDict 替换字符串模板中的${}变量，不支持多级变量。
// Example: SprintfDict("Hello,${name}",map[string]string{"name":"Alice"}). return "Hello,Alice".
// 如果没匹配到变量，则保留原样
func SprintfDict(original string, dict map[string]string) string {
	return SprintfVar(original, "", dict)
}

// SprintfVar 替换带前缀的${prefix.key}变量，例如 prefix 为 "global."
// 如果没匹配到变量，则保留原样
func SprintfVar(original string, prefix string, dict map[string]string) string {
	if !CheckHasVar(original) {
		return original
	}
	return tplVarRegex.ReplaceAllStringFunc(original, func(s string) string {
		matches := tplVarRegex.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		key := strings.TrimSpace(matches[1])
		if !strings.HasPrefix(key, prefix) {
			return s
		}
		if result, ok := dict[key[len(prefix):]]; ok {
			return result
		}
		return s
	})
}

// ReplaceVar 替换带前缀的${prefix.key}变量，值由 fn 提供，fn 返回false时保留原样
func ReplaceVar(original string, prefix string, fn func(key string) (string, bool)) string {
	if !CheckHasVar(original) {
		return original
	}
	return tplVarRegex.ReplaceAllStringFunc(original, func(s string) string {
		matches := tplVarRegex.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		key := strings.TrimSpace(matches[1])
		if !strings.HasPrefix(key, prefix) {
			return s
		}
		if v, ok := fn(key[len(prefix):]); ok {
			return v
		}
		return s
	})
}

// ToString input的值转成字符串,忽略错误
func ToString(input interface{}) string {
	return cast.ToString(input)
}

// ToStringMapString 把interface类型 转 map[string]string类型
func ToStringMapString(input interface{}) map[string]string {
	var output = map[string]string{}
	switch v := input.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		for k, val := range v {
			output[k] = ToString(val)
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			output[ToString(k)] = ToString(val)
		}
	}
	return output
}

// CheckHasVar 检查字符串是否有占位符
func CheckHasVar(str string) bool {
	return strings.Contains(str, "${") && strings.Contains(str, "}")
}

// SplitAndTrim splits s by delimiter, trims every part and drops empty ones
// SplitAndTrim 按分隔符拆分并去掉空白
func SplitAndTrim(s string, delimiter string) []string {
	if delimiter == "" {
		delimiter = ","
	}
	var result []string
	for _, item := range strings.Split(s, delimiter) {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// Contains 检查切片中是否包含元素
func Contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
