package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Shugur-Network/lens/internal/application"
	"github.com/Shugur-Network/lens/internal/config"
	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for lens
var rootCmd = &cobra.Command{
	Use:   "lens",
	Short: "Lens is a client-side Nostr subscription engine",
	Long:  `Relay pool, diff-based subscription management and reactive state snapshots for Nostr clients.`,
	Example: `
  lens start --relay wss://relay.damus.io --relay wss://nos.lol
  lens start --log-level debug --web-addr :8181
  lens start --config /path/to/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		// Load configuration (use nil logger to avoid sync issues)
		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("relay") {
			cfg.Relays.Seeds, _ = flags.GetStringSlice("relay")
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
			if err := logger.UpdateLevel(cfg.Logging.Level); err != nil {
				return fmt.Errorf("invalid log level: %v", err)
			}
		}
		if flags.Changed("web-addr") {
			cfg.Web.Addr, _ = flags.GetString("web-addr")
		}
		if flags.Changed("database-url") {
			cfg.Cache.DatabaseURL, _ = flags.GetString("database-url")
			cfg.Cache.Driver = "postgres"
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printWelcomeBanner() {
	fmt.Println("  _                    ")
	fmt.Println(" | |    ___ _ __  ___  ")
	fmt.Println(" | |   / _ \\ '_ \\/ __| ")
	fmt.Println(" | |__|  __/ | | \\__ \\ ")
	fmt.Println(" |_____\\___|_| |_|___/ ")
	fmt.Println()
	fmt.Println("Welcome to Shugur Lens - a client-side Nostr subscription engine!")
}

// init is automatically called before main(), sets up flags and subcommands
func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")

	// CLI flags for engine configuration
	rootCmd.PersistentFlags().StringSlice("relay", nil, "Seed relay URL, repeatable (wss://...)")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-file", "", "Path to the log file")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format (console or json)")
	rootCmd.PersistentFlags().String("web-addr", ":8181", "Listen address of the status/metrics server")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres URL for the record cache (selects the postgres driver)")

	// A simple version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lens",
		Long:  "Print the version number of lens along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)

	// Add start subcommand
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lens engine daemon",
		Long:  "Start the lens engine daemon with the specified configuration",
		Run: func(cmd *cobra.Command, args []string) {
			printWelcomeBanner()

			cfgFile, _ = cmd.Flags().GetString("config")
			if cfgFile != "" {
				absPath, err := filepath.Abs(cfgFile)
				if err != nil {
					logger.Error("Failed to resolve absolute path for config", zap.Error(err))
					os.Exit(1)
				}
				cfgFile = absPath
				logger.Info("Using config file", zap.String("config_file", cfgFile))
			}

			// Use the context passed down from main.go
			ctx := cmd.Context()

			// Initialize metrics
			metrics.RegisterMetrics()

			// Initialize the engine
			logger.Info("Starting lens...")
			eng, err := application.New(ctx, cfg)
			if err != nil {
				logger.Error("Failed to initialize the engine", zap.Error(err))
				os.Exit(1)
			}

			// Set up graceful shutdown handling
			go func() {
				<-ctx.Done() // Wait for cancellation signal
				logger.Info("Shutdown signal received, initiating graceful shutdown...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
				defer cancel()
				if err := eng.Shutdown(shutdownCtx); err != nil {
					logger.Error("Shutdown finished with errors", zap.Error(err))
				}
			}()

			// Start the engine
			if err := eng.Start(ctx); err != nil {
				logger.Error("Failed to start the engine", zap.Error(err))
				os.Exit(1)
			}

			logger.Info("Lens started successfully!")
		},
	}

	rootCmd.AddCommand(startCmd)
}
