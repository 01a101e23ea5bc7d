package logger

import (
	"log"
	"log/slog"
)

// New returns a stdlib logger that forwards to base at error level, tagged with component.
// It exists for APIs such as http.Server.ErrorLog that only accept *log.Logger.
func New(base *slog.Logger, component string) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelError)
}
