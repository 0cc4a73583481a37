package model

import (
	"fmt"
	"sync"

	apexlog "github.com/apex/log"
)

// Logger is the logger used by every worker in this package tree. It is
// compatible with the apex/log interface we use in the command line client.
type Logger interface {
	// Debug emits a debug message.
	Debug(msg string)

	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Info emits an informational message.
	Info(msg string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Warn emits a warning message.
	Warn(msg string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)
}

// defaultLogger adapts [apexlog.Log] to the [Logger] interface.
type defaultLogger struct {
	log apexlog.Interface
}

var _ Logger = &defaultLogger{}

// NewDefaultLogger returns a [Logger] backed by apex/log.
func NewDefaultLogger() Logger {
	return &defaultLogger{log: apexlog.Log}
}

func (dl *defaultLogger) Debug(msg string)               { dl.log.Debug(msg) }
func (dl *defaultLogger) Debugf(format string, v ...any) { dl.log.Debugf(format, v...) }
func (dl *defaultLogger) Info(msg string)                { dl.log.Info(msg) }
func (dl *defaultLogger) Infof(format string, v ...any)  { dl.log.Infof(format, v...) }
func (dl *defaultLogger) Warn(msg string)                { dl.log.Warn(msg) }
func (dl *defaultLogger) Warnf(format string, v ...any)  { dl.log.Warnf(format, v...) }

// TestLogger collects log lines under a mutex so that tests can run workers
// concurrently and still inspect what they logged.
type TestLogger struct {
	mu    sync.Mutex
	lines []string
}

var _ Logger = &TestLogger{}

// NewTestLogger returns a [TestLogger] ready to be used.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Lines returns a copy of the collected log lines.
func (tl *TestLogger) Lines() []string {
	defer tl.mu.Unlock()
	tl.mu.Lock()
	out := make([]string, len(tl.lines))
	copy(out, tl.lines)
	return out
}

func (tl *TestLogger) emit(level, msg string) {
	defer tl.mu.Unlock()
	tl.mu.Lock()
	tl.lines = append(tl.lines, level+": "+msg)
}

func (tl *TestLogger) Debug(msg string)               { tl.emit("DEBUG", msg) }
func (tl *TestLogger) Debugf(format string, v ...any) { tl.emit("DEBUG", fmt.Sprintf(format, v...)) }
func (tl *TestLogger) Info(msg string)                { tl.emit("INFO", msg) }
func (tl *TestLogger) Infof(format string, v ...any)  { tl.emit("INFO", fmt.Sprintf(format, v...)) }
func (tl *TestLogger) Warn(msg string)                { tl.emit("WARN", msg) }
func (tl *TestLogger) Warnf(format string, v ...any)  { tl.emit("WARN", fmt.Sprintf(format, v...)) }
