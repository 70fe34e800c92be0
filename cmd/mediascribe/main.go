package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appcfg "github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/jobs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "mediascribe",
		Short: "Asynchronous audio and video transcription service",
		Long: `mediascribe accepts audio and video uploads over HTTP, transcribes them
in the background and serves the job status and transcript.

Examples:
  mediascribe                      # same as "mediascribe serve"
  mediascribe serve --config cfg.yaml
  mediascribe status <job-id>      # print the status view of one job`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $MEDIASCRIBE_CONFIG or config.yaml)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	return root
}

func loadConfig(path string) (*appcfg.Config, *slog.Logger, error) {
	cfg, err := appcfg.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level, err := appcfg.ParseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(cfg *appcfg.Config) (jobs.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			DB:       cfg.Store.RedisDB,
			Password: cfg.Store.RedisPass,
		})
		return jobs.NewRedisStore(rdb, cfg.Store.RedisTTL), nil
	default:
		store, err := jobs.NewSQLiteStore(cfg.Store.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		return store, nil
	}
}
