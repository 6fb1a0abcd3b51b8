package logx

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel converts a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Fields carries structured key/value pairs on a log entry.
type Fields map[string]interface{}

// Config controls logger behavior. Loaded from LOG_LEVEL / LOG_FORMAT.
type Config struct {
	Level  Level
	JSON   bool
	Output *os.File
}

// LoadFromEnv builds a Config from environment variables.
func LoadFromEnv() Config {
	return Config{
		Level:  ParseLevel(os.Getenv("LOG_LEVEL")),
		JSON:   strings.ToLower(os.Getenv("LOG_FORMAT")) == "json",
		Output: os.Stderr,
	}
}

// Logger is a leveled logger with optional JSON output.
type Logger struct {
	mu     sync.Mutex
	level  Level
	json   bool
	out    *os.File
	exitFn func(int)
}

// NewLogger creates a Logger from cfg.
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		json:   cfg.JSON,
		out:    out,
		exitFn: os.Exit,
	}
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput redirects the logger output.
func (l *Logger) SetOutput(w *os.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	now := time.Now().Format(time.RFC3339)

	if l.json {
		entry := map[string]interface{}{
			"time":    now,
			"level":   level.String(),
			"message": msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if err != nil {
			entry["error"] = err.Error()
		}
		b, _ := json.Marshal(entry)
		fmt.Fprintln(l.out, string(b))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", now, level.String(), msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	if err != nil {
		fmt.Fprintf(&sb, " error=%v", err)
	}
	fmt.Fprintln(l.out, sb.String())
}

func (l *Logger) exit(code int) { l.exitFn(code) }

// Entry is a logger with bound fields.
type Entry struct {
	logger *Logger
	fields Fields
	err    error
}

// WithFields returns an Entry with additional bound fields.
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged, err: e.err}
}

// WithError binds an error to the entry.
func (e *Entry) WithError(err error) *Entry {
	return &Entry{logger: e.logger, fields: e.fields, err: err}
}

func (e *Entry) Debug(msg string) { e.logger.log(LevelDebug, msg, e.fields, e.err) }
func (e *Entry) Info(msg string)  { e.logger.log(LevelInfo, msg, e.fields, e.err) }
func (e *Entry) Warn(msg string)  { e.logger.log(LevelWarn, msg, e.fields, e.err) }
func (e *Entry) Error(msg string) { e.logger.log(LevelError, msg, e.fields, e.err) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.log(LevelDebug, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.log(LevelInfo, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.log(LevelWarn, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.log(LevelError, fmt.Sprintf(format, args...), e.fields, e.err)
}
