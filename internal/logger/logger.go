// ABOUTME: Shared logging setup built on logrus
// ABOUTME: Provides leveled package-level log functions for all components
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log  *logrus.Logger
	once sync.Once
)

// Config defines logging options.
type Config struct {
	Level  string // debug, info, warn, error
	Output io.Writer
}

// Init configures the shared logger. Safe to call once; later calls are
// ignored so tests and main cannot fight over the sink.
func Init(cfg Config) {
	once.Do(func() {
		l := logrus.New()

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		l.SetOutput(out)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)

		log = l
	})
}

func get() *logrus.Logger {
	if log == nil {
		Init(Config{})
	}
	return log
}

// Fields aliases logrus.Fields so callers need not import logrus.
type Fields = logrus.Fields

// WithFields returns an entry carrying structured fields.
func WithFields(fields Fields) *logrus.Entry {
	return get().WithFields(fields)
}

func Debugf(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}
