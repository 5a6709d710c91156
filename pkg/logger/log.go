// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package logger

import (
	"fmt"
	"io"
	"nvmesntl/pkg/common"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	Error = LogLevel(iota)
	Warning
	Info
	Debug
)

var logFileLock = &sync.Mutex{}

type LoggingConfig struct {
	level LogLevel
	base  *logrus.Logger
}

type Logger struct {
	entry *logrus.Entry
}

var logFileInstance *LoggingConfig

func (level LogLevel) logrusLevel() logrus.Level {
	switch level {
	case Error:
		return logrus.ErrorLevel
	case Warning:
		return logrus.WarnLevel
	case Info:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// ParseLevel accepts the names used in the configuration file.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "", "info":
		return Info, nil
	case "debug":
		return Debug, nil
	}
	return Info, fmt.Errorf("unknown log level %q", name)
}

func GetLoggingConfig() *LoggingConfig {
	logFileLock.Lock()
	defer logFileLock.Unlock()
	if logFileInstance == nil {
		base := logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(Info.logrusLevel())
		logFileInstance = &LoggingConfig{
			level: Info,
			base:  base,
		}
	}
	return logFileInstance
}

func SetLoggingConfig(level LogLevel) {
	loggingConfig := GetLoggingConfig()
	loggingConfig.level = level
	loggingConfig.base.SetLevel(level.logrusLevel())
}

func SetOutput(output io.Writer) {
	GetLoggingConfig().base.SetOutput(output)
}

func GetLogger() *Logger {
	loggingConfig := GetLoggingConfig()
	name := common.GetTraceInfo()
	return &Logger{
		entry: loggingConfig.base.WithField("caller", name),
	}
}

func (logger Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: logger.entry.WithField(key, value)}
}

func (logger Logger) Error(data ...any) {
	logger.entry.Error(data...)
}

func (logger Logger) Warn(data ...any) {
	logger.entry.Warn(data...)
}

func (logger Logger) Warning(data ...any) {
	logger.Warn(data...)
}

func (logger Logger) Info(data ...any) {
	logger.entry.Info(data...)
}

func (logger Logger) Debug(data ...any) {
	logger.entry.Debug(data...)
}

func (logger Logger) Errorf(format string, a ...any) {
	logger.entry.Errorf(format, a...)
}

func (logger Logger) Warnf(format string, a ...any) {
	logger.entry.Warnf(format, a...)
}

func (logger Logger) Warningf(format string, a ...any) {
	logger.Warnf(format, a...)
}

func (logger Logger) Infof(format string, a ...any) {
	logger.entry.Infof(format, a...)
}

func (logger Logger) Debugf(format string, a ...any) {
	logger.entry.Debugf(format, a...)
}
