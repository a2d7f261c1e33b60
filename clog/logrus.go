// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package clog

import (
	"github.com/sirupsen/logrus"
)

// logrusProvider adapts a logrus logger to LogProvider so structured
// host logging and internal protocol logging share one sink.
type logrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = (*logrusProvider)(nil)

// NewLogrusProvider wraps a logrus logger. The component tag becomes a
// structured field on every line.
func NewLogrusProvider(l *logrus.Logger, component string) LogProvider {
	return &logrusProvider{entry: l.WithField("component", component)}
}

// Critical Log CRITICAL level message.
func (sf *logrusProvider) Critical(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

// Error Log ERROR level message.
func (sf *logrusProvider) Error(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

// Warn Log WARN level message.
func (sf *logrusProvider) Warn(format string, v ...interface{}) {
	sf.entry.Warnf(format, v...)
}

// Debug Log DEBUG level message.
func (sf *logrusProvider) Debug(format string, v ...interface{}) {
	sf.entry.Debugf(format, v...)
}
