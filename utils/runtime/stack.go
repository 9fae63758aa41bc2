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

// Package runtime formats stack traces for faults recovered from panicking processors.
package runtime

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/xerrors"
)

// Stack 获取堆栈信息，跳过 Stack 本身及其调用者
func Stack() string {
	var pc = make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	var build strings.Builder
	for {
		frame, more := frames.Next()
		build.WriteString(fmt.Sprintf(" %s\n  %s:%d\n", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return build.String()
}

// PanicError a panic recovered while processing
// PanicError 处理过程中恢复的 panic
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recovered converts a recovered value into a PanicError. It must be called
// from the deferred function that called recover.
func Recovered(value interface{}) error {
	if value == nil {
		return nil
	}
	return &PanicError{Value: value, Stack: Stack()}
}

// IsPanic reports whether err wraps a recovered panic
func IsPanic(err error) bool {
	var p *PanicError
	return xerrors.As(err, &p)
}
