package utils

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log record.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Logger is a small structured field-logger shared by the segmenter core
// and every ambient collaborator (ingest, store, api, cmd).
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	format string // "json" or "text"
	output *log.Logger
	fields map[string]interface{}
}

// NewLogger builds a Logger at the given level and format ("json" or "text").
func NewLogger(level, format string) *Logger {
	var logLevel LogLevel
	switch strings.ToLower(level) {
	case "debug":
		logLevel = DebugLevel
	case "info":
		logLevel = InfoLevel
	case "warn", "warning":
		logLevel = WarnLevel
	case "error":
		logLevel = ErrorLevel
	case "fatal":
		logLevel = FatalLevel
	default:
		logLevel = InfoLevel
	}

	return &Logger{
		level:  logLevel,
		format: format,
		output: log.New(os.Stdout, "", 0),
		fields: make(map[string]interface{}),
	}
}

// WithField returns a child Logger with key=value attached to every record
// it emits. The receiver is left unmodified.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newLogger := &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: make(map[string]interface{}),
	}

	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value

	return newLogger
}

// WithFields returns a child Logger with every entry of fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: make(map[string]interface{}),
	}

	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}

	return newLogger
}

// WithContext is a hook for future context-scoped fields (trace/request
// id); ssvid-level fields are threaded explicitly via WithField today.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return l
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string) {
	l.log(DebugLevel, msg)
}

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...))
}

// Info logs msg at info level.
func (l *Logger) Info(msg string) {
	l.log(InfoLevel, msg)
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string) {
	l.log(WarnLevel, msg)
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}

// Error logs msg at error level.
func (l *Logger) Error(msg string) {
	l.log(ErrorLevel, msg)
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

// Fatal logs msg at fatal level and terminates the process.
func (l *Logger) Fatal(msg string) {
	l.log(FatalLevel, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at fatal level and terminates the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FatalLevel, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// log renders and writes one record, skipping anything below the
// configured level.
func (l *Logger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fields := make(map[string]interface{})
	for k, v := range l.fields {
		fields[k] = v
	}

	fields["time"] = time.Now().Format(time.RFC3339)
	fields["level"] = levelString(level)
	fields["msg"] = msg

	// Caller info is expensive enough that it's only worth paying for at
	// debug level, where it's needed most.
	if l.level <= DebugLevel {
		_, file, line, ok := runtime.Caller(2)
		if ok {
			fields["file"] = fmt.Sprintf("%s:%d", file, line)
		}
	}

	if l.format == "json" {
		l.outputJSON(fields)
	} else {
		l.outputText(fields)
	}
}

// outputJSON writes fields as a single-line JSON object.
func (l *Logger) outputJSON(fields map[string]interface{}) {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf(`"%s":"%v"`, k, v))
	}
	l.output.Printf("{%s}", strings.Join(parts, ","))
}

// outputText writes fields as "[time] LEVEL msg key=value ...".
func (l *Logger) outputText(fields map[string]interface{}) {
	timestamp := fields["time"]
	level := fields["level"]
	msg := fields["msg"]

	logMsg := fmt.Sprintf("[%s] %s %s", timestamp, level, msg)

	extraFields := make([]string, 0)
	for k, v := range fields {
		if k != "time" && k != "level" && k != "msg" {
			extraFields = append(extraFields, fmt.Sprintf("%s=%v", k, v))
		}
	}

	if len(extraFields) > 0 {
		logMsg += " " + strings.Join(extraFields, " ")
	}

	l.output.Println(logMsg)
}

// levelString returns the textual name of level.
func levelString(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Default logger instance, used by the package-level convenience functions
// below.
var defaultLogger = NewLogger("info", "text")

// DefaultLogger exposes the package-level default for callers that want to
// inspect or replace it directly instead of going through SetDefaultLogger.
var DefaultLogger = defaultLogger

// SetDefaultLogger replaces the package-level default logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// Debug logs msg at debug level on the default logger.
func Debug(msg string) {
	defaultLogger.Debug(msg)
}

// Debugf logs a formatted message at debug level on the default logger.
func Debugf(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

// Info logs msg at info level on the default logger.
func Info(msg string) {
	defaultLogger.Info(msg)
}

// Infof logs a formatted message at info level on the default logger.
func Infof(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

// Warn logs msg at warn level on the default logger.
func Warn(msg string) {
	defaultLogger.Warn(msg)
}

// Warnf logs a formatted message at warn level on the default logger.
func Warnf(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

// Error logs msg at error level on the default logger.
func Error(msg string) {
	defaultLogger.Error(msg)
}

// Errorf logs a formatted message at error level on the default logger.
func Errorf(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

// Fatal logs msg at fatal level on the default logger and terminates the
// process.
func Fatal(msg string) {
	defaultLogger.Fatal(msg)
}

// Fatalf logs a formatted message at fatal level on the default logger and
// terminates the process.
func Fatalf(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}
