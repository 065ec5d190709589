package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a colored console logger for dev and a JSON logger otherwise.
func New(level slog.Level, env, version string) *slog.Logger {
	return newWithWriter(os.Stdout, level, env, version)
}

func newWithWriter(w io.Writer, level slog.Level, env, version string) *slog.Logger {
	if env == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", "airvisual-sensor")
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With(
		"app", "airvisual-sensor",
		"version", version,
		"env", env,
	)
}
