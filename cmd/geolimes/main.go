// Package main implements the geolimes command: it retrieves the geometries
// of the source and target datasets of a link-discovery run, caching every
// result by query fingerprint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dservsys/geolimes/internal/app"
	"github.com/dservsys/geolimes/internal/config"
	"github.com/dservsys/geolimes/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "geolimes",
	Short: "Adaptive paginated SPARQL geometry retrieval with a persistent cache",
	Long: `geolimes fetches resource geometries from SPARQL endpoints in chunks,
adapting the chunk size to the row ceiling the endpoint advertises, and caches
each complete result under the fingerprint of its query.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with GEOLIMES_* variables")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Base directory for cache, logs and manifest")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Command line flags have the highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	return cfg, nil
}

// openApp builds the application and its logger. The returned cleanup
// closes both.
func openApp(ctx context.Context) (*app.App, *zap.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, logger, cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
