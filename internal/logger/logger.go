package logger

import (
	"io"
	"log"
	"sync"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

type Logger struct {
	logger *log.Logger
	level  LogLevel
	tag    string
}

// NewLogger wraps a standard logger. A nil logger discards all output,
// which is what the tests use.
func NewLogger(logger *log.Logger, level LogLevel) *Logger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Logger{
		logger: logger,
		level:  level,
		tag:    "",
	}
}

// WithTag creates a new logger with a tag prefix
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{
		logger: l.logger,
		level:  l.level,
		tag:    tag,
	}
}

func (l *Logger) formatMessage(level string, format string) string {
	if l.tag != "" {
		if level != "" {
			return "[" + l.tag + "] " + level + " " + format
		}
		return "[" + l.tag + "] " + format
	}
	if level != "" {
		return level + " " + format
	}
	return format
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.level >= LogLevelDebug {
		l.logger.Printf(l.formatMessage("DEBUG:", format), v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logger.Printf(l.formatMessage("", format), v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.level >= LogLevelWarning {
		l.logger.Printf(l.formatMessage("WARN:", format), v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.level >= LogLevelError {
		l.logger.Printf(l.formatMessage("ERROR:", format), v...)
	}
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatalf(l.formatMessage("FATAL:", format), v...)
}

// Budget is a diagnostic channel that goes quiet after a bounded number of
// messages, so diagnostics can stay in the control loop without flooding
// the log. Allow re-arms it.
type Budget struct {
	l         *Logger
	mu        sync.Mutex
	remaining int
}

func NewBudget(l *Logger, n int) *Budget {
	return &Budget{l: l, remaining: n}
}

// Printf logs at info level while messages remain in the budget.
// It reports whether the message was emitted.
func (b *Budget) Printf(format string, v ...interface{}) bool {
	b.mu.Lock()
	if b.remaining <= 0 {
		b.mu.Unlock()
		return false
	}
	b.remaining--
	b.mu.Unlock()

	b.l.Infof(format, v...)
	return true
}

// Allow sets the number of messages that may still be emitted.
func (b *Budget) Allow(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	b.remaining = n
	b.mu.Unlock()
}

// EnsureOne guarantees at least one more message, used for state dumps
// that must always be visible.
func (b *Budget) EnsureOne() {
	b.mu.Lock()
	if b.remaining <= 0 {
		b.remaining = 1
	}
	b.mu.Unlock()
}

func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
