package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger writes leveled messages to a single output stream. Debug output
// is gated behind verbose mode; the other levels always print.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	out     io.Writer
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the shared process logger, writing to stderr.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{out: os.Stderr}
	})
	return loggerInstance
}

// SetVerboseMode toggles verbose mode on the shared logger.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose toggles verbose mode on this logger.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	l.verbose = verbose
	l.mu.Unlock()
}

// IsVerbose reports whether debug output is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// formatMessage treats the message as a format string only when
// arguments follow, so callers can log literal strings containing '%'.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

func (l *Logger) write(level, msgOrFormat string, args ...interface{}) {
	l.mu.RLock()
	out := l.out
	l.mu.RUnlock()
	fmt.Fprintf(out, "[%s] %s\n", level, formatMessage(msgOrFormat, args...))
}

// Debug logs only in verbose mode, with a timestamp for correlating
// slow operations.
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	if !l.IsVerbose() {
		return
	}
	l.mu.RLock()
	out := l.out
	l.mu.RUnlock()
	fmt.Fprintf(out, "%s [DEBUG] %s\n", time.Now().Format("15:04:05"), formatMessage(msgOrFormat, args...))
}

// Info logs an informational message.
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.write("INFO", msgOrFormat, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.write("WARN", msgOrFormat, args...)
}

// Error logs an error.
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.write("ERROR", msgOrFormat, args...)
}

// Debugf logs a debug message through the shared logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof logs an info message through the shared logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf logs a warning through the shared logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf logs an error through the shared logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger captures outcomes of background work (scheduled
// backup ticks, auto-save flushes) in a file, for long-running mode
// where nobody watches stderr.
type BackgroundLogger struct {
	logger  *log.Logger
	file    *os.File
	path    string
	enabled bool
}

// NewBackgroundLogger opens a PID-specific log file under the system
// temp directory.
func NewBackgroundLogger() (*BackgroundLogger, error) {
	path := fmt.Sprintf("%s/nexus-%d.log", os.TempDir(), os.Getpid())
	return NewBackgroundLoggerWithPath(path)
}

// NewBackgroundLoggerWithPath opens a background log at the given path.
// On failure it returns the error together with a logger that discards
// writes, so callers can keep a single code path.
func NewBackgroundLoggerWithPath(path string) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{path: path}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		bl.logger = log.New(io.Discard, "", log.LstdFlags)
		return bl, err
	}

	bl.file = file
	bl.logger = log.New(file, "", log.LstdFlags)
	bl.enabled = true
	return bl, nil
}

// Printf appends a formatted entry.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	if bl.logger != nil {
		bl.logger.Printf(format, args...)
	}
}

// Close closes the log file. Later writes are discarded.
func (bl *BackgroundLogger) Close() {
	if bl.file != nil {
		_ = bl.file.Close()
		bl.file = nil
	}
	bl.logger = log.New(io.Discard, "", log.LstdFlags)
	bl.enabled = false
}

// GetLogPath returns the log file location.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.path
}

// IsEnabled reports whether entries actually reach the file.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}
