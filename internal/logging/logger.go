package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger defines a minimal, printf-style logging contract shared by every
// package in the module.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config selects the root logger output.
type Config struct {
	Level  string    `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string    `mapstructure:"format" yaml:"format"` // json, text
	Output io.Writer `mapstructure:"-" yaml:"-"`
}

var (
	rootMu sync.RWMutex
	root   = newRoot(Config{Level: "info", Format: "text"})
)

func newRoot(cfg Config) *logrus.Logger {
	l := logrus.New()
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Configure replaces the process-wide root logger. Loggers created earlier
// keep writing to the previous root.
func Configure(cfg Config) {
	l := newRoot(cfg)
	rootMu.Lock()
	root = l
	rootMu.Unlock()
}

func currentRoot() *logrus.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

type entryLogger struct {
	entry *logrus.Entry
}

// NewComponentLogger returns the application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &entryLogger{entry: currentRoot().WithField("component", component)}
}

// New wraps an explicit logrus logger, mostly for tests that capture output.
func New(l *logrus.Logger, component string) Logger {
	if l == nil {
		return Nop()
	}
	return &entryLogger{entry: l.WithField("component", component)}
}

func (l *entryLogger) with(fields logrus.Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(fields)}
}

func (l *entryLogger) Debug(format string, args ...any) {
	if l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *entryLogger) Info(format string, args ...any) {
	l.entry.Info(fmt.Sprintf(format, args...))
}

func (l *entryLogger) Warn(format string, args ...any) {
	l.entry.Warn(fmt.Sprintf(format, args...))
}

func (l *entryLogger) Error(format string, args ...any) {
	l.entry.Error(fmt.Sprintf(format, args...))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}
