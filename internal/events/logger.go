package events

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// LogConfig controls logger construction. Kept here rather than in config to
// avoid an import cycle (config logs through events during validation).
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	File   string // log file path (empty = stdout)

	// Rotation settings, used only when File is set.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// ErrorFile appends error-level records to a separate file.
	ErrorFile string

	// TraceFile mirrors the full debug stream to a separate file,
	// independent of Level.
	TraceFile string
}

// sink mirrors records in a level range to a second writer, independent of
// the logger's own threshold.
type sink struct {
	min LogLevel
	max LogLevel
	w   io.Writer
}

// Logger provides structured logging.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	format string
	output io.Writer
	sinks  []sink
	fields map[string]interface{}
}

// NewLogger creates a logger from config. File output rotates via lumberjack.
func NewLogger(cfg *LogConfig) *Logger {
	var output io.Writer = os.Stdout
	if cfg.File != "" {
		output = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	l := &Logger{
		level:  parseLevel(cfg.Level),
		format: cfg.Format,
		output: output,
		fields: make(map[string]interface{}),
	}
	if w, err := appendFile(cfg.ErrorFile); err == nil {
		l.Tee(ErrorLevel, ErrorLevel, w)
	}
	if w, err := appendFile(cfg.TraceFile); err == nil {
		l.Tee(DebugLevel, ErrorLevel, w)
	}
	return l
}

func appendFile(path string) (io.Writer, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

// NewTestLogger creates a logger for testing.
func NewTestLogger(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: "text",
		output: output,
		fields: make(map[string]interface{}),
	}
}

// Tee mirrors records between min and max inclusive to w, regardless of the
// logger's level. Returns the logger for chaining.
func (l *Logger) Tee(min, max LogLevel, w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink{min: min, max: max, w: w})
	return l
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		sinks:  l.sinks,
		fields: newFields,
	}
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.log(DebugLevel, msg) }

// Info logs at info level.
func (l *Logger) Info(msg string) { l.log(InfoLevel, msg) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string) { l.log(WarnLevel, msg) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.log(ErrorLevel, msg) }

func (l *Logger) log(level LogLevel, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	primary := level >= l.level
	var mirrors []io.Writer
	for _, s := range l.sinks {
		if level >= s.min && level <= s.max {
			mirrors = append(mirrors, s.w)
		}
	}
	if !primary && len(mirrors) == 0 {
		return
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	var line string
	if l.format == "json" {
		line = l.formatJSON(ts, level, msg)
	} else {
		line = l.formatText(ts, level, msg)
	}

	if primary {
		_, _ = io.WriteString(l.output, line)
	}
	for _, w := range mirrors {
		_, _ = io.WriteString(w, line)
	}
}

func (l *Logger) formatJSON(ts string, level LogLevel, msg string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`{"time":"%s","level":"%s","msg":"%s"`,
		ts, levelString(level), escapeJSON(msg)))

	for k, v := range l.fields {
		sb.WriteString(fmt.Sprintf(`,"%s":`, escapeJSON(k)))
		switch val := v.(type) {
		case string:
			sb.WriteString(fmt.Sprintf(`"%s"`, escapeJSON(val)))
		case int, int64, float64, bool:
			sb.WriteString(fmt.Sprintf("%v", val))
		default:
			sb.WriteString(fmt.Sprintf(`"%s"`, escapeJSON(fmt.Sprintf("%v", val))))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (l *Logger) formatText(ts string, level LogLevel, msg string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", ts, strings.ToUpper(levelString(level)), msg)
	for k, v := range l.fields {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	sb.WriteString("\n")
	return sb.String()
}

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func levelString(l LogLevel) string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}
