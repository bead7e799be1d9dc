package libstream

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// writerLogger writes one line per entry to an io.Writer. Fields are printed
// sorted by key so output is stable.
type writerLogger struct {
	mu     *sync.Mutex
	writer io.Writer
	level  LogLevel
	fields map[string]any
}

// NewWriterLogger creates a new logger that writes entries at or above level
// to the provided writer.
func NewWriterLogger(writer io.Writer, level LogLevel) Logger {
	return &writerLogger{
		mu:     &sync.Mutex{},
		writer: writer,
		level:  level,
		fields: make(map[string]any),
	}
}

func (l *writerLogger) WithField(key string, value any) Logger {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value

	return &writerLogger{
		mu:     l.mu,
		writer: l.writer,
		level:  l.level,
		fields: fields,
	}
}

func (l *writerLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	b.WriteString("]")
	return b.String()
}

func (l *writerLogger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg = strings.TrimSuffix(msg, "\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "[%s] %s%s: %s\n", timestamp, level, l.formatFields(), msg)
}

func (l *writerLogger) Debug(args ...any) { l.log(LevelDebug, fmt.Sprint(args...)) }

func (l *writerLogger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugln(args ...any) { l.log(LevelDebug, fmt.Sprintln(args...)) }

func (l *writerLogger) Info(args ...any) { l.log(LevelInfo, fmt.Sprint(args...)) }

func (l *writerLogger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Infoln(args ...any) { l.log(LevelInfo, fmt.Sprintln(args...)) }

func (l *writerLogger) Warn(args ...any) { l.log(LevelWarn, fmt.Sprint(args...)) }

func (l *writerLogger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnln(args ...any) { l.log(LevelWarn, fmt.Sprintln(args...)) }

func (l *writerLogger) Error(args ...any) { l.log(LevelError, fmt.Sprint(args...)) }

func (l *writerLogger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorln(args ...any) { l.log(LevelError, fmt.Sprintln(args...)) }
