package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"edurag/internal/app"
	"edurag/internal/config"
	"edurag/internal/logger"
)

var configPath string // overridable via --config flag

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "edurag",
		Short:         "Educational document ingestion and question answering service",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $EDURAG_CONFIG or ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(askCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configured file. Without an explicit path a missing
// file falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	explicit := path != ""
	if path == "" {
		path = os.Getenv("EDURAG_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.BasicConfig.LogMode)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
