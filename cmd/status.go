package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/cache"
	"github.com/scotusdata/harvester/internal/clock/system"
	"github.com/scotusdata/harvester/internal/config"
	"github.com/scotusdata/harvester/internal/harvest"
	"github.com/scotusdata/harvester/internal/logging"
	"github.com/scotusdata/harvester/internal/tracker/sqlite"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows tracker and cache state from previous runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clk := system.New()

	ledger, err := sqlite.New(cfg.Tracker.Dir, clk, logger.Named("tracker"))
	if err != nil {
		return err
	}
	defer ledger.Close()

	counts, err := ledger.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("tracker state",
		zap.Int("pending", counts[harvest.StatePending]),
		zap.Int("in_progress", counts[harvest.StateInProgress]),
		zap.Int("succeeded", counts[harvest.StateSucceeded]),
		zap.Int("failed", counts[harvest.StateFailed]),
	)

	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, rec := range snap.Failed {
		logger.Warn("failed key",
			zap.String("key", rec.Key.String()),
			zap.String("reason", rec.Reason),
			zap.Int("attempts", rec.Attempts),
		)
	}

	store, err := cache.New(cache.Config{BaseDir: cfg.Cache.Dir}, clk, logger.Named("cache"))
	if err != nil {
		return err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("cache state",
		zap.Int("entries", stats.Entries),
		zap.Int64("bytes", stats.Bytes),
	)
	return nil
}
