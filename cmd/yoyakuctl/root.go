package main

import (
	"fmt"
	"os"

	"yoyaku/internal/config"
	"yoyaku/internal/database"
	"yoyaku/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// env is what every subcommand needs: loaded config, a logger and the store.
type env struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "yoyakuctl",
		Short:         "Administrative tasks for the yoyaku booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultPath, "path to config.yaml")

	root.AddCommand(newCouponsCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newBackupCmd(opts))
	root.AddCommand(newTasksCmd(opts))
	return root
}

func (o *rootOptions) open() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// CLI output goes to stderr so that command results stay on stdout.
	logCfg := cfg.Logging
	if logCfg.Output != "file" {
		logCfg.Output = "stderr"
	}
	base, _, err := logging.New(logCfg, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(base, "yoyakuctl")

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}
