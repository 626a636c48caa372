package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved listen address
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("TransitWatch", Version)

	logger.Info().
		Str("version", GetVersionInfo().String()).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("worker_mode", config.Worker.Mode).
		Int("targets", len(config.Targets)).
		Msg("TransitWatch starting")
}
