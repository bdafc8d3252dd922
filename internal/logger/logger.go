package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	levelMutex  sync.RWMutex
	globalLevel = slog.LevelDebug
)

// JSONParsingWriter wraps an io.Writer and converts JSON logs to our format.
// sipgo logs through zerolog in JSON; this keeps its lines readable next
// to ours instead of dumping raw JSON on the console.
type JSONParsingWriter struct {
	base io.Writer
}

// Write implements io.Writer and parses JSON log lines
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	line := string(p)

	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		var logEntry map[string]interface{}
		if err := json.Unmarshal(p, &logEntry); err == nil {
			level := "info"
			if lv, ok := logEntry["level"]; ok {
				level = fmt.Sprint(lv)
			}

			message := "unknown"
			if msg, ok := logEntry["message"]; ok {
				message = fmt.Sprint(msg)
			}

			timestamp := time.Now().Format("15:04:05")
			if t, ok := logEntry["time"]; ok {
				if ts, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
					timestamp = ts.Format("15:04:05")
				}
			}

			// Collect attributes (excluding standard fields)
			var attrs []string
			for k, v := range logEntry {
				if k != "level" && k != "message" && k != "time" && k != "caller" {
					attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
				}
			}

			formatted := fmt.Sprintf("[%s] [%s] %s", timestamp, strings.ToUpper(level), message)
			if len(attrs) > 0 {
				formatted += " " + strings.Join(attrs, " ")
			}
			formatted += "\n"

			return w.base.Write([]byte(formatted))
		}
	}

	// Not JSON or failed to parse, write as-is
	return w.base.Write(p)
}

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMutex.Lock()
	defer levelMutex.Unlock()
	globalLevel = level
}

// ParseLevel parses a string to an slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// handler writes formatted log lines to one or more outputs with global
// level filtering.
type handler struct {
	outs []io.Writer
	mu   sync.Mutex
}

// Handle implements slog.Handler
func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	levelMutex.RLock()
	if record.Level < globalLevel {
		levelMutex.RUnlock()
		return nil
	}
	levelMutex.RUnlock()

	timestamp := record.Time.Format("15:04:05")
	levelStr := record.Level.String()
	message := record.Message

	var attrs []string
	record.Attrs(func(a slog.Attr) bool {
		if a.Key != "time" && a.Key != "level" && a.Key != "msg" {
			attrs = append(attrs, a.Key+"="+a.Value.String())
		}
		return true
	})

	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}

	formattedLog := "[" + timestamp + "] [" + strings.ToUpper(levelStr) + "] " + message + "\n"
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(formattedLog))
		}
	}

	return nil
}

// WithAttrs implements slog.Handler
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler
func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

// Enabled implements slog.Handler
func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	levelMutex.RLock()
	defer levelMutex.RUnlock()
	return level >= globalLevel
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	// Wrap outputs with the JSON parser to reformat sipgo logs
	wrappedOutputs := make([]io.Writer, len(outputs))
	for i, out := range outputs {
		wrappedOutputs[i] = &JSONParsingWriter{base: out}
	}

	logger := slog.New(&handler{outs: wrappedOutputs})
	slog.SetDefault(logger)
}

// FileOutput returns a size-rotated log file writer. Pass the result to
// InitLogger alongside os.Stdout to tee logs to disk.
func FileOutput(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
}

// Convenience functions that use the default logger
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
