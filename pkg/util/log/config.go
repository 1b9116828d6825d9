// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package log

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the process-wide logger installed by Setup.
type Config struct {
	// Level is the minimum emitted level: debug, info, warn, or error.
	Level string
	// Verbosity gates log.VEventf; 0 disables verbose events.
	Verbosity int32
	// File, if set, sends log output to a rotating file instead of stderr.
	File string
	// MaxSizeMB, MaxBackups and MaxAgeDays bound the rotation policy when
	// File is set. Zero values fall back to the rotator's defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup replaces the process-wide logger according to cfg. It may be called
// at most once, before any goroutines that log are started.
func Setup(cfg Config) error {
	var level zapcore.Level
	switch cfg.Level {
	case "", "info":
		level = zapcore.InfoLevel
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return errors.Newf("unknown log level %q", cfg.Level)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	sugar.Store(logger.Sugar())
	SetVerbosity(cfg.Verbosity)
	return nil
}
