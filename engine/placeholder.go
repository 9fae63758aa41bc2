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

package engine

import (
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/aes"
	"github.com/rulego/routego/utils/str"
)

// placeholders resolves ${global.key}, ${route.key} and ${secrets.key} in node
// configurations. Secrets are route properties encrypted with the engine secret key.
// placeholders 替换节点配置中的 ${global.key}、${route.key}、${secrets.key} 变量
type placeholders struct {
	global    map[string]string
	route     map[string]string
	secretKey string
	secrets   map[string]string
}

func newPlaceholders(config types.Config, def *types.RouteDefinition) *placeholders {
	p := &placeholders{
		global:    map[string]string{},
		route:     map[string]string{},
		secretKey: config.SecretKey,
		secrets:   map[string]string{},
	}
	if config.Properties != nil {
		p.global = config.Properties.Values()
	}
	if def.Properties != nil {
		p.route = def.Properties
	}
	return p
}

func (p *placeholders) secret(key string) (string, error) {
	if v, ok := p.secrets[key]; ok {
		return v, nil
	}
	encrypted, ok := p.route[key]
	if !ok {
		return "", &types.LookupError{Name: key, Type: "secret", Msg: "no route property with this name"}
	}
	if p.secretKey == "" {
		return "", types.NewIllegalStateError("secret %s cannot be decrypted without a secret key", key)
	}
	v, err := aes.Decrypt(encrypted, []byte(p.secretKey))
	if err != nil {
		return "", types.NewIllegalArgumentError("secret %s cannot be decrypted: %v", key, err)
	}
	p.secrets[key] = v
	return v, nil
}

func (p *placeholders) resolveString(s string) (string, error) {
	if !str.CheckHasVar(s) {
		return s, nil
	}
	v := str.SprintfVar(s, types.Global+".", p.global)
	v = str.SprintfVar(v, types.RouteVars+".", p.route)
	var firstErr error
	v = str.ReplaceVar(v, types.Secrets+".", func(key string) (string, bool) {
		secret, err := p.secret(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return "", false
		}
		return secret, true
	})
	return v, firstErr
}

func (p *placeholders) resolveValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return p.resolveString(v)
	case map[string]interface{}:
		return p.resolveMap(v)
	case types.Configuration:
		return p.resolveMap(v)
	case types.ExpressionDefinition:
		text, err := p.resolveString(v.Expression)
		v.Expression = text
		return v, err
	case *types.ExpressionDefinition:
		if v == nil {
			return v, nil
		}
		resolved := *v
		text, err := p.resolveString(v.Expression)
		resolved.Expression = text
		return &resolved, err
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := p.resolveValue(item)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	case []string:
		result := make([]string, len(v))
		for i, item := range v {
			resolved, err := p.resolveString(item)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	}
	return value, nil
}

func (p *placeholders) resolveMap(m map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		resolved, err := p.resolveValue(v)
		if err != nil {
			return nil, err
		}
		result[k] = resolved
	}
	return result, nil
}

// resolveConfiguration returns a resolved copy, the definition is never modified
func (p *placeholders) resolveConfiguration(configuration types.Configuration) (types.Configuration, error) {
	if configuration == nil {
		return types.Configuration{}, nil
	}
	resolved, err := p.resolveMap(configuration)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
