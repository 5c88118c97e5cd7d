// Package logger provides the leveled file+console logger shared by the
// library and the CLI. Until Init is called, output goes to stderr only,
// so library users who never initialize it still see warnings.
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

// Level lists supported log severities
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes to a file plus the console
type Logger struct {
	mu          sync.Mutex
	fileLogger  *log.Logger
	consoleLog  *log.Logger
	level       Level
	logFile     *os.File
	logFilePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init creates the global logger. logFilePrefix names the log file,
// e.g. "redis-event_127.0.0.1_6379".
func Init(logDir string, level Level, logFilePrefix string) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}

		if logFilePrefix == "" {
			logFilePrefix = "redis-event"
		}
		logFilePath := filepath.Join(logDir, logFilePrefix+".log")

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("failed to open log file: %w", err)
			return
		}

		defaultLogger = &Logger{
			fileLogger:  log.New(logFile, "", 0),
			consoleLog:  log.New(os.Stdout, "", 0),
			level:       level,
			logFile:     logFile,
			logFilePath: logFilePath,
		}
	})
	return initErr
}

// Close shuts down the log file
func Close() error {
	if defaultLogger != nil && defaultLogger.logFile != nil {
		return defaultLogger.logFile.Close()
	}
	return nil
}

// GetLogFilePath returns the backing log file path
func GetLogFilePath() string {
	if defaultLogger != nil {
		return defaultLogger.logFilePath
	}
	return ""
}

func formatMessage(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], fmt.Sprintf(format, args...))
}

func logToFile(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	if level < defaultLogger.level {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.fileLogger.Println(formatMessage(level, format, args...))
}

func logToConsole(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		fmt.Fprintln(os.Stderr, formatMessage(level, format, args...))
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.consoleLog.Println(formatMessage(level, format, args...))
}

func logToBoth(level Level, format string, args ...interface{}) {
	logToFile(level, format, args...)
	logToConsole(level, format, args...)
}

// Debug logs debug messages (file only)
func Debug(format string, args ...interface{}) {
	logToFile(DEBUG, format, args...)
}

// Info logs info messages (file only)
func Info(format string, args ...interface{}) {
	logToFile(INFO, format, args...)
}

// Warn logs warnings (file + console)
func Warn(format string, args ...interface{}) {
	logToBoth(WARN, format, args...)
}

// Error logs errors (file + console)
func Error(format string, args ...interface{}) {
	logToBoth(ERROR, format, args...)
}

// Printf mimics log.Printf (file + console)
func Printf(format string, args ...interface{}) {
	logToBoth(INFO, format, args...)
}

// Writer returns an io.Writer compatible with the standard log package
func Writer() io.Writer {
	if defaultLogger != nil {
		return defaultLogger.logFile
	}
	return os.Stdout
}
