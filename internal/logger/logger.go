// Package logger provides leveled logging with per-component prefixes
// so master and worker lines can be told apart.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// Logger writes leveled log lines for one component.
type Logger struct {
	level     Level
	component string
	logger    *log.Logger
}

var (
	defaultLevel = InfoLevel
	defaultFlags = log.LstdFlags | log.Lmicroseconds
)

// Init sets the process-wide level and format for loggers created
// afterwards.
func Init(level string, format string) {
	switch strings.ToLower(level) {
	case "debug":
		defaultLevel = DebugLevel
	case "info":
		defaultLevel = InfoLevel
	case "warn":
		defaultLevel = WarnLevel
	case "error":
		defaultLevel = ErrorLevel
	default:
		defaultLevel = InfoLevel
	}

	defaultFlags = log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		defaultFlags |= log.Lshortfile
	}
}

// New returns a logger tagging each line with the given component,
// e.g. "Master" or "Worker[2]".
func New(component string) *Logger {
	return &Logger{
		level:     defaultLevel,
		component: component,
		logger:    log.New(os.Stderr, "", defaultFlags),
	}
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	if l == nil || l.level > level {
		return
	}
	msg := fmt.Sprintf("[%s] %s - %s", levelNames[level], l.component, fmt.Sprintf(format, args...))
	_ = l.logger.Output(3, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(DebugLevel, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(InfoLevel, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(WarnLevel, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(ErrorLevel, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] %s - %s", l.component, fmt.Sprintf(format, args...))
	if l != nil {
		_ = l.logger.Output(3, msg)
	}
	os.Exit(1)
}
