package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger writes structured log lines. Arguments after the message are
// alternating key/value pairs.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a JSON logger on stdout at info level.
func NewLogger() *Logger {
	return New(os.Stdout, "info", "json")
}

// New creates a logger writing to w. Format is "json" or "console".
func New(w io.Writer, level, format string) *Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return &Logger{
		zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds the given fields to every line.
func (l *Logger) With(args ...any) *Logger {
	ctx := l.zl.With()
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		ctx = ctx.Interface(key, val)
	}
	return &Logger{zl: ctx.Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	emit(l.zl.Debug(), msg, args)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	emit(l.zl.Info(), msg, args)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	emit(l.zl.Warn(), msg, args)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	emit(l.zl.Error(), msg, args)
}

func emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		if err, ok := val.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, val)
	}
	ev.Msg(msg)
}

func pair(args []any, i int) (string, any) {
	if i+1 >= len(args) {
		return "!BADKEY", args[i]
	}
	key, ok := args[i].(string)
	if !ok {
		key = fmt.Sprint(args[i])
	}
	return key, args[i+1]
}
