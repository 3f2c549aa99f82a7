// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level mirrors the four log levels the configuration file's Log_Level key
// accepts: Bare, All, Excess, Debug (see spec.md §6).
type Level int

// Log levels, ordered least to most verbose (values 0 through 3). Prefixed Level* to avoid
// colliding with the package-level Debug/Info/Warn/Error logging functions.
const (
	LevelBare Level = iota
	LevelAll
	LevelExcess
	LevelDebug
)

// logrusLogger adapts a *logrus.Logger to the Logger interface. Bare suppresses
// warnings and info; All enables warnings; Excess enables info; Debug enables
// debug messages and is the only level that also writes a debug.log file.
type logrusLogger struct {
	l *logrus.Logger
}

// NewLogrusLogger builds a Logger backed by logrus, writing free-form diagnostic
// lines to w at the given level. At Debug level, callers are expected to pass
// an io.MultiWriter teeing to both the console and <log_dir>/debug.log.
func NewLogrusLogger(w io.Writer, level Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	switch level {
	case LevelBare:
		l.SetLevel(logrus.ErrorLevel)
	case LevelAll:
		l.SetLevel(logrus.WarnLevel)
	case LevelExcess:
		l.SetLevel(logrus.InfoLevel)
	case LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	}
	return &logrusLogger{l: l}
}

func (d *logrusLogger) Errorf(format string, args ...interface{}) { d.l.Errorf(format, args...) }
func (d *logrusLogger) Error(args ...interface{})                 { d.l.Error(args...) }
func (d *logrusLogger) Debugf(format string, args ...interface{}) { d.l.Debugf(format, args...) }
func (d *logrusLogger) Debug(args ...interface{})                 { d.l.Debug(args...) }
func (d *logrusLogger) Warnf(format string, args ...interface{})  { d.l.Warnf(format, args...) }
func (d *logrusLogger) Warn(args ...interface{})                  { d.l.Warn(args...) }
func (d *logrusLogger) Infof(format string, args ...interface{})  { d.l.Infof(format, args...) }
func (d *logrusLogger) Info(args ...interface{})                  { d.l.Info(args...) }
