// Package main implements the cardscan CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan"
	"github.com/menta2k/cardscan/internal/config"
	"github.com/menta2k/cardscan/internal/logging"
	"github.com/menta2k/cardscan/internal/metrics"
)

var (
	// configPath is the YAML configuration file; empty uses defaults and env only.
	configPath string
	// envFile is loaded into the environment before the configuration.
	envFile string
	// logLevel overrides log.level.
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cardscan",
	Short: "Scan business cards into structured contacts",
	Long: `cardscan rectifies photographs of business cards, recognizes their text and
extracts company, name, position and email with a language model. Cards are
kept in a local collection that can be tagged, searched and served over HTTP.

Configuration is read from a YAML file (--config), then CARDSCAN_* environment
variables, e.g. CARDSCAN_EXTRACTION_MODEL=llama3.2.`,
	Version:       cardscan.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.GetConfigPath()+" when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(cardsCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cardscan version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "cardscan", cardscan.Version)
	},
}

// loadConfig loads the dotenv file, then the configuration.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	path := configPath
	if path == "" {
		if _, err := os.Stat(config.GetConfigPath()); err == nil {
			path = config.GetConfigPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// setup builds the logger and the application for a command.
func setup(cmd *cobra.Command) (context.Context, *cardscan.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics.Register()

	ctx := logging.ContextWithLogger(cmd.Context(), logger)
	app, err := cardscan.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return ctx, app, logger, nil
}
