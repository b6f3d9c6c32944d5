package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the JSON logger. When file is set, records go to stdout
// and to a size-rotated file; the returned func closes that file.
func NewLogger(level, file string) (*slog.Logger, func()) {
	var w io.Writer = os.Stdout
	closeFn := func() {}
	if file != "" {
		rot := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rot)
		closeFn = func() { _ = rot.Close() }
	}
	return newJSONLogger(w, level), closeFn
}

func newJSONLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
