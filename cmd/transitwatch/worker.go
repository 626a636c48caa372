package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/ipc"
	"github.com/ternarybob/transitwatch/internal/services/browser"
	"github.com/ternarybob/transitwatch/internal/services/scraper"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the scrape worker (started by serve)",
	Long:   `Runs the scrape loops and browser sessions. Commands arrive on fd 3 and events are written to fd 4.`,
	Hidden: true,
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.InitLogger(config, "transitwatch-worker").WithCorrelationId("worker")

	commands := os.NewFile(ipc.CommandsFD, "commands")
	events := os.NewFile(ipc.EventsFD, "events")
	if _, err := commands.Stat(); err != nil {
		return fmt.Errorf("worker must be started by transitwatch serve: %w", err)
	}
	if _, err := events.Stat(); err != nil {
		return fmt.Errorf("worker must be started by transitwatch serve: %w", err)
	}
	defer commands.Close()
	defer events.Close()

	sessions := browser.NewManager(&config.Browser, &config.Scraper, logger)
	policy := scraper.PolicyFromConfig(&config.Scraper, config.Browser.Selectors)
	host := ipc.NewHost(sessions, policy, config.Scraper.StartStagger, logger)

	// Ctrl+C reaches the whole process group; the orchestrator sends shutdown instead
	signal.Ignore(os.Interrupt)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	logger.Info().Int("pid", os.Getpid()).Msg("Worker started")

	if err := host.Serve(ctx, commands, events); err != nil {
		logger.Error().Err(err).Msg("Worker stopped with error")
		return err
	}

	logger.Info().Msg("Worker stopped")
	return nil
}
