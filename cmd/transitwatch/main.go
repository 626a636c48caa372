package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported
	serverPort  int
	serverHost  string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "transitwatch",
	Short: "Continuous bus arrival monitor",
	Long: `TransitWatch keeps one browser-driven scrape loop per configured (line, stop)
target and serves the latest arrival estimates over HTTP and WebSocket.

Examples:
  # Serve with the default target set
  transitwatch

  # Layer a local config over the base one
  transitwatch -c transitwatch.toml -c local.toml -p 8080`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("TransitWatch version %s\n", common.GetVersionInfo())
			return nil
		}
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.Flags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Print version information")

	serveCmd.Flags().AddFlagSet(rootCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves config files and applies CLI overrides.
// Startup order: defaults -> file1 -> file2 -> ... -> env -> CLI flags.
func loadConfig() (*common.Config, error) {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		for _, candidate := range []string{"transitwatch.toml", "deployments/local/transitwatch.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFiles = append(configFiles, candidate)
				break
			}
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		// Use temporary logger for startup errors
		arbor.NewLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return nil, err
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)
	return config, nil
}
