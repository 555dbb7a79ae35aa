package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes leveled engine logs to a per-session file and mirrors
// warnings and errors to stdout.
type Logger struct {
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	debug   bool
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// New creates a logger writing to logs/engine_<date>.log. Debug entries are
// dropped unless debug is set.
func New(logDir string, debug bool) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("engine_%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		logFile: file,
		logger:  log.New(file, "", 0),
		debug:   debug,
	}
	l.writeSessionHeader()
	return l, nil
}

// NewDiscard returns a logger that drops everything, used by tests that do
// not assert on log output.
func NewDiscard() *Logger {
	return &Logger{logger: log.New(io.Discard, "", 0)}
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 ENGINE SESSION STARTED
================================================================================
Started: %s
================================================================================
`, time.Now().Format("2006-01-02 15:04:05"))
	l.logger.Print(header)
}

// Log writes a formatted entry with the given level.
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	if level == LogLevelDebug && !l.debug {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %-6s %s", timestamp, level, message)

	if (level == LogLevelWarning || level == LogLevelError) && l.logFile != nil {
		fmt.Printf("[%s] %-6s %s\n", timestamp, level, message)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// LogWarning writes a warning with a short context tag.
func (l *Logger) LogWarning(context, format string, args ...interface{}) {
	l.Log(LogLevelWarning, "%s: %s", context, fmt.Sprintf(format, args...))
}

// LogError writes an error with a short context tag.
func (l *Logger) LogError(context, format string, args ...interface{}) {
	l.Log(LogLevelError, "%s: %s", context, fmt.Sprintf(format, args...))
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	l.logger.Printf("[%s] %-6s engine session ended", time.Now().Format("2006-01-02 15:04:05"), LogLevelStatus)
	return l.logFile.Close()
}
