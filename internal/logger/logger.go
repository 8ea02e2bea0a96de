// Package logger provides leveled application logging on top of op/go-logging.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
)

const (
	moduleName = "taskhub"
	timeFormat = "2006/01/02 15:04:05"
)

var logger = newLogger(os.Stderr, logging.INFO)

// InitLogger replaces the process logger with a stderr backend at level.
func InitLogger(level logging.Level) {
	logger = newLogger(os.Stderr, level)
}

// InitLoggerWriter is InitLogger for an arbitrary writer, used by tests.
func InitLoggerWriter(w io.Writer, level logging.Level) {
	logger = newLogger(w, level)
}

// ParseLevel maps a level name such as "debug" or "WARNING" to a logging.Level.
// Unknown names fall back to INFO.
func ParseLevel(name string) logging.Level {
	level, err := logging.LogLevel(strings.ToUpper(strings.TrimSpace(name)))
	if err != nil {
		return logging.INFO
	}
	return level
}

func newLogger(w io.Writer, level logging.Level) *logging.Logger {
	l := logging.MustGetLogger(moduleName)
	backend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		`%{time:`+timeFormat+`} %{level} - %{message}`,
	))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, moduleName)
	l.SetBackend(leveled)
	return l
}

func Debug(args ...any) {
	logger.Debug(args...)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Info(args ...any) {
	logger.Info(args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Warning(args ...any) {
	logger.Warning(args...)
}

func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
}

func Error(args ...any) {
	logger.Error(args...)
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}
