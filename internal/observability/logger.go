package observability

import (
	"github.com/danmuck/edgewire/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global logger for a wirectl process. An unknown
// level falls back to the runtime default.
func InitLogger(app, level string, json bool) zerolog.Logger {
	cfg := logging.Config{Level: zerolog.InfoLevel, Timestamp: true, JSON: json}
	if lvl, ok := logging.ParseLevel(level); ok {
		cfg.Level = lvl
	}
	logging.Apply(cfg)
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}
