// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package log provides the named, leveled loggers used throughout waymetric.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/op/go-logging"
)

type Level logging.Level

// The levels that can be passed to the SetLevel function.
const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

// The logger format
var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

var (
	μ              sync.Mutex
	leveledBackend logging.LeveledBackend
	current        = Notice
)

// The logger interface
type Logger interface {
	Debug(v ...any)
	Debugf(format string, v ...any)

	Notice(v ...any)
	Noticef(format string, v ...any)

	Info(v ...any)
	Infof(format string, v ...any)

	Warning(v ...any)
	Warningf(format string, v ...any)

	Error(v ...any)
	Errorf(format string, v ...any)
}

// New creates a new named logger.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// SetSink overrides the backend output sink. The current level is kept.
func SetSink(sink io.Writer) {
	μ.Lock()
	defer μ.Unlock()
	backend := logging.NewLogBackend(sink, "", 0)
	backendWithFormatter := logging.NewBackendFormatter(backend, format)
	leveledBackend = logging.AddModuleLevel(backendWithFormatter)
	leveledBackend.SetLevel(current.logging(), "")
	logging.SetBackend(leveledBackend)
}

// SetLevel sets the logger verbosity for all modules.
func SetLevel(level Level) {
	μ.Lock()
	defer μ.Unlock()
	current = level
	leveledBackend.SetLevel(level.logging(), "")
}

// CurrentLevel reports the level most recently passed to SetLevel.
func CurrentLevel() Level {
	μ.Lock()
	defer μ.Unlock()
	return current
}

func (l Level) logging() logging.Level {
	switch l {
	case Debug:
		return logging.DEBUG
	case Info:
		return logging.INFO
	case Warning:
		return logging.WARNING
	case Error:
		return logging.ERROR
	default:
		return logging.NOTICE
	}
}

// String returns the name of the level as accepted by ParseLevel.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Notice:
		return "notice"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses the name of a level.
func ParseLevel(s string) (Level, error) {
	for l := Debug; l <= Error; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return Notice, fmt.Errorf("unknown log level %q", s)
}

func init() {
	SetSink(os.Stdout)
}
