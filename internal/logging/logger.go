// Package logging provides leveled, mutex-guarded logging for objectsentry.
//
// The wire format mirrors the line shape the pipeline's log file is
// expected to produce: "[LEVEL] On <timestamp> PT, <message>". A single
// process-wide default logger is installed at startup and shared by
// every component; nothing below this package reaches for the stdlib
// log package directly.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled logger that writes timestamped lines to one or
// more writers (typically stderr and an append-only log file).
type Logger struct {
	mu       sync.Mutex
	minLevel Level
	std      *log.Logger
}

// New creates a Logger that writes to out, filtering lines below minLevel.
func New(out io.Writer, minLevel Level) *Logger {
	return &Logger{
		minLevel: minLevel,
		std:      log.New(out, "", 0),
	}
}

// NewWithFile opens path for appending and returns a Logger that writes
// to both stderr and the file. If path is empty, only stderr is used.
func NewWithFile(path string, minLevel Level) (*Logger, error) {
	if path == "" {
		return New(os.Stderr, minLevel), nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	return New(io.MultiWriter(os.Stderr, f), minLevel), nil
}

func (l *Logger) log(level Level, msg string) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.Printf("[%s] On %s PT, %s", level, time.Now().Format("2006-01-02 15:04:05"), msg)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, fmt.Sprintf(format, args...)) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, args ...any) { l.log(Info, fmt.Sprintf(format, args...)) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, args ...any) { l.log(Warning, fmt.Sprintf(format, args...)) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, fmt.Sprintf(format, args...)) }

// Fatalf logs an error-level message. Callers are responsible for exiting;
// this never calls os.Exit so that shutdown paths can run first.
func (l *Logger) Fatalf(format string, args ...any) { l.log(Error, fmt.Sprintf(format, args...)) }
