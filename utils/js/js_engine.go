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

// Package js runs JavaScript with goja.
//
// Programs are compiled once and executed on pooled virtual machines. Each
// machine is prepared with the global properties and the user defined
// functions of the config: string values are JavaScript sources run on the
// machine, other values (Go functions) are set as globals.
//
// Package js 基于 goja 的 JavaScript 执行引擎，虚拟机池化复用
package js

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/funcs"
)

const (
	// GlobalKey global properties, read with global.xx
	GlobalKey = "global"
)

// GojaJsEngine goja js engine
type GojaJsEngine struct {
	vmPool            sync.Pool
	config            types.Config
	program           *goja.Program
	jsUdfProgramCache map[string]*goja.Program
}

// NewGojaJsEngine compiles script. Its completion value is the result of Execute.
// NewGojaJsEngine 创建 JavaScript 引擎
func NewGojaJsEngine(config types.Config, script string) (*GojaJsEngine, error) {
	program, err := goja.Compile("", script, true)
	if err != nil {
		return nil, err
	}
	jsEngine := &GojaJsEngine{
		config:  config,
		program: program,
	}
	if err = jsEngine.PreCompileJs(config); err != nil {
		return nil, err
	}
	jsEngine.vmPool = sync.Pool{
		New: func() interface{} {
			return jsEngine.NewVm(config)
		},
	}
	return jsEngine, nil
}

// PreCompileJs compiles the JavaScript user defined functions
func (g *GojaJsEngine) PreCompileJs(config types.Config) error {
	var jsUdfProgramCache = make(map[string]*goja.Program)
	for k, v := range udfs(config) {
		if jsFuncStr, ok := v.(string); ok {
			p, err := goja.Compile(k, jsFuncStr, true)
			if err != nil {
				return err
			}
			jsUdfProgramCache[k] = p
		}
	}
	g.jsUdfProgramCache = jsUdfProgramCache
	return nil
}

// udfs the process wide script functions overridden by the config Udf
func udfs(config types.Config) map[string]interface{} {
	all := funcs.ScriptFunc.GetAll()
	for k, v := range config.Udf {
		all[k] = v
	}
	return all
}

// NewVm new a js VM
func (g *GojaJsEngine) NewVm(config types.Config) *goja.Runtime {
	vm := goja.New()
	if len(config.Properties.Values()) != 0 {
		if err := vm.Set(GlobalKey, config.Properties.Values()); err != nil {
			types.LogAt(config.Logger, "WARN", "set global properties error: %s", err.Error())
		}
	}
	for k, v := range udfs(config) {
		var err error
		if _, ok := v.(string); ok {
			if p, exists := g.jsUdfProgramCache[k]; exists {
				_, err = vm.RunProgram(p)
			}
		} else {
			err = vm.Set(k, v)
		}
		if err != nil {
			types.LogAt(config.Logger, "WARN", "parse js script=%s error: %s", k, err.Error())
		}
	}
	return vm
}

// Execute runs the program with vars set as globals
func (g *GojaJsEngine) Execute(vars map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("%s", caught)
		}
	}()

	vm := g.vmPool.Get().(*goja.Runtime)
	defer g.vmPool.Put(vm)
	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}

	timer := g.startTimeout(vm)
	defer g.stopTimeout(vm, timer)

	res, err := vm.RunProgram(g.program)
	if err != nil {
		return nil, err
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return res.Export(), nil
}

// startTimeout interrupts vm after ScriptMaxExecutionTime, nil when not configured
func (g *GojaJsEngine) startTimeout(vm *goja.Runtime) *time.Timer {
	if g.config.ScriptMaxExecutionTime <= 0 {
		return nil
	}
	return time.AfterFunc(g.config.ScriptMaxExecutionTime, func() {
		vm.Interrupt("execution timeout")
	})
}

// stopTimeout stops the timer and clears a pending interrupt so the vm can be reused
func (g *GojaJsEngine) stopTimeout(vm *goja.Runtime, timer *time.Timer) {
	if timer != nil {
		timer.Stop()
		vm.ClearInterrupt()
	}
}
