// Package log is the process-wide key/value logger. Calls take a message
// followed by alternating keys and values:
//
//	log.Info("frame shown", "op", "clear", "elapsed", d)
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the log sinks.
type Options struct {
	Level Level
	// File, if set, receives a copy of every line and is rotated at 1MB.
	File string
	// Console overrides stderr as the human-readable sink.
	Console io.Writer
}

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
	rotator    *lumberjack.Logger
)

func initLogger() {
	loggerOnce.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		logger = newLogger(consoleWriter(os.Stderr))
	})
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano, NoColor: true}
}

// Setup replaces the global sinks. It returns a close function for the log
// file, if one was opened.
func Setup(opts Options) (func() error, error) {
	initLogger()

	lvl := LevelInfo
	if opts.Level != "" {
		l, err := ParseLevel(string(opts.Level))
		if err != nil {
			return nil, err
		}
		lvl = l
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{consoleWriter(console)}

	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	if opts.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    1,
			MaxBackups: 2,
		}
		writers = append(writers, rotator)
	}
	logger = newLogger(io.MultiWriter(writers...))
	setLevel(lvl)

	closer := func() error { return nil }
	if r := rotator; r != nil {
		closer = r.Close
	}
	return closer, nil
}

// ParseLevel accepts the level names in any case.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo, "":
		return LevelInfo, nil
	case LevelWarn, "WARNING":
		return LevelWarn, nil
	case LevelError:
		return LevelError, nil
	}
	return "", fmt.Errorf("log: unknown level %q", s)
}

func SetLevel(l Level) {
	initLogger()
	setLevel(l)
}

func setLevel(l Level) {
	switch l {
	case LevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LevelWarn:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LevelError:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	emit(zerolog.DebugLevel, nil, msg, kv)
}

func Info(msg string, kv ...any) {
	emit(zerolog.InfoLevel, nil, msg, kv)
}

func Warn(msg string, kv ...any) {
	emit(zerolog.WarnLevel, nil, msg, kv)
}

func Error(msg string, err error, kv ...any) {
	emit(zerolog.ErrorLevel, err, msg, kv)
}

func emit(level zerolog.Level, err error, msg string, kv []any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Stack().Err(err)
	}
	ev.Fields(fields(kv)).Msg(msg)
}

// fields drops pairs with non-string keys and renders Stringers as text.
// An odd trailing value is ignored.
func fields(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		val := kv[i+1]
		switch v := val.(type) {
		case error:
			val = v.Error()
		case time.Duration:
		case fmt.Stringer:
			val = v.String()
		}
		out = append(out, key, val)
	}
	return out
}
