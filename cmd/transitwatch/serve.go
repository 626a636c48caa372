package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/transitwatch/internal/app"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scrape worker and the HTTP server (default)",
	Long:  `Starts the worker with the active target set and serves arrivals over HTTP and WebSocket.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.InitLogger(config, "transitwatch")
	common.PrintBanner(config, logger)

	logger.Debug().
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Bool("storage_enabled", config.Storage.Badger.Enabled).
		Bool("browser_shared", config.Browser.Shared).
		Str("recycle_schedule", config.Recycle.Schedule).
		Msg("Resolved configuration")

	application, err := app.New(config, configFiles, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return err
	}
	defer application.Close()

	// Closed by POST /api/shutdown
	shutdownChan := make(chan struct{})

	srv := server.New(application)
	srv.SetShutdownChannel(shutdownChan)

	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	// Wait for interrupt signal, HTTP shutdown request or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}
