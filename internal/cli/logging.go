package cli

import (
	"io"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/config"
)

// SetupLogging creates a console logger on w with the specified level and
// installs it as the default logger.
func SetupLogging(level string, w io.Writer) logger.ILogger {
	log := logger.NewConsoleLogger(w)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}

// commandLogger logs to the command's stderr. The --log-level flag wins
// when given, otherwise the configured loglevel applies.
func commandLogger(cmd *cobra.Command, flagLevel string, cfg *config.Config) logger.ILogger {
	level := flagLevel
	if cfg != nil && cfg.LogLevel != "" {
		if f := cmd.Flags().Lookup("log-level"); f == nil || !f.Changed {
			level = cfg.LogLevel
		}
	}
	return SetupLogging(level, cmd.ErrOrStderr())
}
