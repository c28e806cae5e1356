/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package log provides the leveled, structured logger used throughout
// RustySquid. It wraps github.com/go-kit/log the way the teacher's own
// internal/util/log package wraps its logging backend: a small set of
// level functions taking a message and a Pairs map of structured fields.
package log

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	kitlog "github.com/go-kit/log"
)

// Level is a logging severity threshold.
type Level int32

const (
	// LevelDebug logs everything.
	LevelDebug Level = iota
	// LevelInfo logs startup/shutdown events. Cache events (HIT, MISS,
	// STORE, EVICT) are counted in internal/metrics and are not logged.
	LevelInfo
	// LevelWarn logs per-request recoverable errors.
	LevelWarn
	// LevelError logs fatal conditions.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel parses a RUST_LOG-equivalent filter string into a Level. It
// accepts the common spellings case-insensitively and defaults to Info for
// anything unrecognized, so a typo in an env var never silences the logger.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

// Pairs is a set of structured logging fields. It is a map, so fields are
// written in no particular order. The zero value is usable.
type Pairs map[string]interface{}

// Logger is the package-wide leveled logger. It is safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	base   kitlog.Logger
	level  int32 // atomic, holds a Level
}

var std = New(os.Stdout, LevelInfo)

// New constructs a Logger writing logfmt lines to w, filtering below level.
func New(w *os.File, level Level) *Logger {
	l := &Logger{base: kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))}
	atomic.StoreInt32(&l.level, int32(level))
	return l
}

// SetLevel adjusts the package-wide minimum severity at runtime.
func SetLevel(level Level) { std.SetLevel(level) }

// SetLevel adjusts this logger's minimum severity at runtime.
func (l *Logger) SetLevel(level Level) { atomic.StoreInt32(&l.level, int32(level)) }

func (l *Logger) enabled(level Level) bool {
	return int32(level) >= atomic.LoadInt32(&l.level)
}

func (l *Logger) log(level Level, msg string, p Pairs) {
	if !l.enabled(level) {
		return
	}
	kv := make([]interface{}, 0, 4+2*len(p))
	kv = append(kv, "level", level.String(), "msg", msg)
	for k, v := range p {
		kv = append(kv, k, v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.base.Log(kv...)
}

// Debug logs msg at LevelDebug with the given structured fields.
func (l *Logger) Debug(msg string, p Pairs) { l.log(LevelDebug, msg, p) }

// Info logs msg at LevelInfo with the given structured fields.
func (l *Logger) Info(msg string, p Pairs) { l.log(LevelInfo, msg, p) }

// Warn logs msg at LevelWarn with the given structured fields.
func (l *Logger) Warn(msg string, p Pairs) { l.log(LevelWarn, msg, p) }

// Error logs msg at LevelError with the given structured fields.
func (l *Logger) Error(msg string, p Pairs) { l.log(LevelError, msg, p) }

// Debug logs to the package-wide default logger.
func Debug(msg string, p Pairs) { std.Debug(msg, p) }

// Info logs to the package-wide default logger.
func Info(msg string, p Pairs) { std.Info(msg, p) }

// Warn logs to the package-wide default logger.
func Warn(msg string, p Pairs) { std.Warn(msg, p) }

// Error logs to the package-wide default logger.
func Error(msg string, p Pairs) { std.Error(msg, p) }
