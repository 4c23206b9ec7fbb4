// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options controls logger construction.
type Options struct {
	Level string
	// Dir receives rotated log files. Empty disables file output.
	Dir string
	// Env "test" disables file output.
	Env string
}

// NewLogger builds the shared logger on first call and returns it after.
func NewLogger(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        false,
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			FieldsOrder:     []string{"component", "cycle_id", "strategy"},
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})

		writers := []io.Writer{os.Stderr}
		if opts.Env != "test" && opts.Dir != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, fmt.Sprintf("trash-spawn-%s.log", time.Now().Format("2006-01-02"))),
				LocalTime:  true,
				Compress:   true,
				MaxSize:    100,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}

		logger.SetOutput(io.MultiWriter(writers...))
		logger.SetReportCaller(true)
	})

	return logger
}

// L returns the shared logger, falling back to logrus' standard logger
// before NewLogger has run.
func L() *logrus.Logger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// Or returns l, or the shared logger when l is nil.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return L()
	}
	return l
}

// Component tags l with a component name.
func Component(l logrus.FieldLogger, name string) logrus.FieldLogger {
	return Or(l).WithField("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Debug(fields Fields, msg string) {
	L().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	L().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	L().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	L().WithFields(fields).Error(msg)
}

func Fatal(fields Fields, msg string) {
	L().WithFields(fields).Fatal(msg)
}
