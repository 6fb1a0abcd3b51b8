package logx

import (
	"fmt"
	"os"
)

// defaultLogger is the global logger instance, configured from the
// environment at startup.
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(LoadFromEnv())
}

// SetDefaultLogger replaces the default logger.
func SetDefaultLogger(logger *Logger) { defaultLogger = logger }

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() *Logger { return defaultLogger }

// SetLevel sets the log level for the default logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

// SetOutput sets the output for the default logger.
func SetOutput(w *os.File) { defaultLogger.SetOutput(w) }

// Debug logs a debug level message.
func Debug(msg string) { defaultLogger.log(LevelDebug, msg, nil, nil) }

// Info logs an info level message.
func Info(msg string) { defaultLogger.log(LevelInfo, msg, nil, nil) }

// Warn logs a warning level message.
func Warn(msg string) { defaultLogger.log(LevelWarn, msg, nil, nil) }

// Error logs an error level message.
func Error(msg string) { defaultLogger.log(LevelError, msg, nil, nil) }

// Fatal logs a fatal message and exits.
func Fatal(msg string) {
	defaultLogger.log(LevelFatal, msg, nil, nil)
	defaultLogger.exit(1)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, fmt.Sprintf(format, args...), nil, nil)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, fmt.Sprintf(format, args...), nil, nil)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	defaultLogger.log(LevelError, fmt.Sprintf(format, args...), nil, nil)
}

// Fatalf logs a formatted fatal message and exits.
func Fatalf(format string, args ...interface{}) {
	defaultLogger.log(LevelFatal, fmt.Sprintf(format, args...), nil, nil)
	defaultLogger.exit(1)
}

// WithFields creates a structured entry on the default logger.
func WithFields(fields Fields) *Entry {
	return &Entry{logger: defaultLogger, fields: fields}
}

// WithError creates an entry carrying an error.
func WithError(err error) *Entry {
	return &Entry{logger: defaultLogger, err: err}
}
