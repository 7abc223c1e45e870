package common

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the logging surface the rest of the rig depends on. Backed by
// slog; NopLogger satisfies it for tests and optional components.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dailyLogWriter appends to <name>-YYYY-MM-DD.log, switching files at
// local midnight. The slog handler funnels all output through one writer,
// so Write serializes on the mutex.
type dailyLogWriter struct {
	dir  string
	name string

	mu      sync.Mutex
	file    *os.File
	fileDay string
}

func newDailyLogWriter(dir, name string) *dailyLogWriter {
	return &dailyLogWriter{dir: dir, name: name}
}

func (w *dailyLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().Format("2006-01-02")
	if w.file == nil || w.fileDay != day {
		if err := w.open(day); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *dailyLogWriter) open(day string) error {
	if w.file != nil {
		w.file.Close()
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.name, day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.file = file
	w.fileDay = day
	return nil
}

// CreateLogger builds the application logger: JSON lines in daily files
// under logDir. An empty logDir uses ~/.picam/logs; when the directory
// cannot be created (read-only root, first boot) logging falls back to
// stdout so the rig still starts.
func CreateLogger(level LogLevel, logDir, name string) Logger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	if logDir == "" {
		logDir = defaultLogDir()
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(newDailyLogWriter(logDir, name), opts))
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "logs"
	}
	return filepath.Join(home, ".picam", "logs")
}

type nopLogger struct{}

// NopLogger discards everything. Constructors take it when a caller
// passes a nil logger.
var NopLogger Logger = &nopLogger{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Debug(msg string, args ...any) {}
