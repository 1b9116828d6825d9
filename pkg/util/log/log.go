// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package log provides leveled, structured logging for the whole tree. It is
// a thin façade over zap so that call sites stay stable if the backend ever
// changes. All functions take a Context first; the context is currently used
// only to carry future log tags and may be context.Background() in tests.
package log

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// sugar is the process-wide logger. It is replaced wholesale by Setup and
	// read atomically by every logging call.
	sugar atomic.Value // *zap.SugaredLogger
	// verbosity gates VEventf. Events with a level at or below the configured
	// verbosity are emitted at INFO.
	verbosity int32
)

func init() {
	logger, _ := zap.NewProduction(zap.AddCallerSkip(1))
	sugar.Store(logger.Sugar())
}

func get() *zap.SugaredLogger {
	return sugar.Load().(*zap.SugaredLogger)
}

// Infof logs to the INFO level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	get().Infof(format, args...)
}

// Warningf logs to the WARNING level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	get().Warnf(format, args...)
}

// Errorf logs to the ERROR level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	get().Errorf(format, args...)
}

// Fatalf logs to the FATAL level and terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	get().Fatalf(format, args...)
}

// V returns whether the configured verbosity is at or above the requested
// level. Use it to avoid the argument evaluation cost of verbose events:
//
//	if log.V(2) { log.VEventf(ctx, 2, "details: %+v", state) }
func V(level int32) bool {
	return atomic.LoadInt32(&verbosity) >= level
}

// VEventf logs a verbose event at the INFO level if the configured verbosity
// is at or above the requested level, and is a no-op otherwise.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	get().Infof(format, args...)
}

// SetVerbosity sets the verbosity gate for VEventf. Safe for concurrent use.
func SetVerbosity(level int32) {
	atomic.StoreInt32(&verbosity, level)
}

// Flush forces any buffered log entries out to their sink. Call before
// process exit.
func Flush() {
	_ = get().Sync()
}
