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

package types

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger 日志接口
type Logger interface {
	Printf(format string, v ...interface{})
}

// LevelLogger is a Logger with levels. Components use it when the configured
// logger offers it and fall back to Printf otherwise.
// LevelLogger 支持日志级别的日志接口
type LevelLogger interface {
	Logger
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// ZeroLogger adapts a zerolog.Logger
type ZeroLogger struct {
	logger zerolog.Logger
}

var _ LevelLogger = (*ZeroLogger)(nil)

// NewZeroLogger creates a logger writing through zerolog
func NewZeroLogger(logger zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{logger: logger}
}

// DefaultLogger returns a console zerolog logger
func DefaultLogger() *ZeroLogger {
	return NewZeroLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger())
}

// Zerolog returns the underlying zerolog logger
func (l *ZeroLogger) Zerolog() zerolog.Logger {
	return l.logger
}

func (l *ZeroLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

func (l *ZeroLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l *ZeroLogger) Infof(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

func (l *ZeroLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l *ZeroLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}

// NewLogger returns custom, or the default logger when custom is nil
func NewLogger(custom Logger) Logger {
	if custom != nil {
		return custom
	}
	return DefaultLogger()
}

// Levelled returns l as a LevelLogger, prefixing levels when l has none
func Levelled(l Logger) LevelLogger {
	if l == nil {
		return DefaultLogger()
	}
	if ll, ok := l.(LevelLogger); ok {
		return ll
	}
	return printfLevelLogger{l}
}

type printfLevelLogger struct {
	Logger
}

func (p printfLevelLogger) Debugf(format string, v ...interface{}) {
	p.Printf("DEBUG "+format, v...)
}

func (p printfLevelLogger) Infof(format string, v ...interface{}) {
	p.Printf("INFO "+format, v...)
}

func (p printfLevelLogger) Warnf(format string, v ...interface{}) {
	p.Printf("WARN "+format, v...)
}

func (p printfLevelLogger) Errorf(format string, v ...interface{}) {
	p.Printf("ERROR "+format, v...)
}

// LogAt logs msg at the named level: TRACE, DEBUG, INFO, WARN, ERROR, OFF
func LogAt(l Logger, level string, format string, v ...interface{}) {
	ll := Levelled(l)
	switch level {
	case "OFF":
	case "TRACE", "DEBUG":
		ll.Debugf(format, v...)
	case "WARN":
		ll.Warnf(format, v...)
	case "ERROR":
		ll.Errorf(format, v...)
	default:
		ll.Infof(format, v...)
	}
}

// discardLogger drops everything, used by tests
type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}

// DiscardLogger returns a logger that drops all output
func DiscardLogger() Logger {
	return discardLogger{}
}
