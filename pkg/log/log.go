package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. The zero value discards events,
// so packages constructed before Init stay quiet instead of panicking.
var Logger zerolog.Logger

// Config controls the root logger's shape. Level accepts zerolog's level
// names ("debug", "info", "warn", "error"); anything unrecognized falls back
// to info. Console selects human-readable output for dev mode; the default
// is one JSON object per line.
type Config struct {
	Level   string
	Console bool
	Output  io.Writer
}

// Init builds the root logger and sets the global level
func Init(cfg Config) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the subsystem name
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithAppID returns a child logger scoped to one application. The runtime
// process uses this as its root so every line carries the app.
func WithAppID(appID string) zerolog.Logger {
	return Logger.With().Str("app_id", appID).Logger()
}
