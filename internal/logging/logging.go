// Package logging configures the process-global structured logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Format names accepted by Config.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the logging scope (internal/options registers it under "logging").
type Config struct {
	Level   string `mapstructure:"level" default:"info"`
	Format  string `mapstructure:"format" default:"text"`
	LogFile string `mapstructure:"log_file" default:""`
}

// Setup configures the global zerolog logger from cfg and returns it. Every
// session wraps its context with the returned logger via zerolog.Ctx so that
// rule bodies and intrinsics can log through context.Context without a
// package-level dependency.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixNano

	var writers []io.Writer
	if cfg.LogFile != "" {
		clean := filepath.Clean(cfg.LogFile)
		//nolint:gosec // path comes from validated config, not untrusted input
		f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			writers = append(writers, f)
		}
	}

	if strings.EqualFold(cfg.Format, FormatText) {
		writers = append(writers, zerolog.NewConsoleWriter())
	} else {
		writers = append(writers, os.Stdout)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
