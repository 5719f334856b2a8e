package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/cache"
	"github.com/scotusdata/harvester/internal/clock/system"
	"github.com/scotusdata/harvester/internal/config"
	"github.com/scotusdata/harvester/internal/fetcher"
	"github.com/scotusdata/harvester/internal/harvest"
	"github.com/scotusdata/harvester/internal/logging"
	"github.com/scotusdata/harvester/internal/normalize"
	"github.com/scotusdata/harvester/internal/orchestrator"
	"github.com/scotusdata/harvester/internal/progress"
	"github.com/scotusdata/harvester/internal/progress/sinks"
	"github.com/scotusdata/harvester/internal/ratelimit"
	fssink "github.com/scotusdata/harvester/internal/sink/fs"
	"github.com/scotusdata/harvester/internal/tracker/sqlite"
)

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	var terms []string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvests the configured Supreme Court terms",
		Long: `Runs a full harvest: term listings, case details, oral argument
transcripts, and audio recordings. Already-cached work is skipped, failures
are retried per policy, and interrupting the run leaves a resumable ledger.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), terms)
		},
	}
	cmd.Flags().StringSliceVar(&terms, "terms", nil, "terms to harvest (overrides config)")
	return cmd
}

func runHarvest(ctx context.Context, terms []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(terms) > 0 {
		cfg.Harvest.Terms = terms
	}
	if len(cfg.Harvest.Terms) == 0 {
		return errors.New("no terms to harvest; set harvest.terms or pass --terms")
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clk := system.New()

	store, err := cache.New(cache.Config{BaseDir: cfg.Cache.Dir}, clk, logger.Named("cache"))
	if err != nil {
		return err
	}
	ledger, err := sqlite.New(cfg.Tracker.Dir, clk, logger.Named("tracker"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			logger.Warn("tracker close failed", zap.Error(cerr))
		}
	}()

	httpFetcher, err := fetcher.New(fetcher.Config{
		BaseURL:   cfg.API.BaseURL,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.APITimeout(),
		PageSize:  cfg.API.PageSize,
	}, nil, clk, logger.Named("fetcher"))
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		InitialDelay:   time.Duration(cfg.RateLimit.InitialDelayMs) * time.Millisecond,
		MinDelay:       time.Duration(cfg.RateLimit.MinDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.RateLimit.MaxDelayMs) * time.Millisecond,
		BackoffFactor:  cfg.RateLimit.BackoffFactor,
		RecoveryFactor: cfg.RateLimit.RecoveryFactor,
		Jitter:         cfg.RateLimit.Jitter,
	}, logger.Named("ratelimit"))

	entitySink, err := fssink.New(cfg.Output.Dir, logger.Named("sink"))
	if err != nil {
		return err
	}

	hub, metricsSrv, err := buildProgress(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(shutdownCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Config{
		Workers:   cfg.Harvest.Workers,
		QueueSize: cfg.Harvest.QueueDepth,
		PageSize:  cfg.API.PageSize,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts: cfg.Harvest.MaxAttempts,
			Base:        cfg.RetryBackoff(),
			Max:         cfg.RetryBackoffMax(),
		},
		RetryRounds:     cfg.Harvest.RetryRounds,
		RetryRoundDelay: time.Duration(cfg.Harvest.RetryRoundDelaySecond) * time.Second,
	}, orchestrator.Deps{
		Fetcher:    httpFetcher,
		Streamer:   httpFetcher,
		Cache:      store,
		Tracker:    ledger,
		Limiter:    limiter,
		Normalizer: normalize.New(logger.Named("normalize")),
		Sink:       entitySink,
		Emitter:    hub,
		Clock:      clk,
		Logger:     logger.Named("orchestrator"),
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, cfg.Harvest.Terms)
	logReport(logger, report)
	if err != nil {
		return err
	}
	if report.FailureCount() > 0 {
		return fmt.Errorf("harvest completed with %d failed keys", report.FailureCount())
	}
	return nil
}

// buildProgress wires the event hub: structured logs always, Prometheus when
// the metrics endpoint is enabled.
func buildProgress(cfg config.Config, logger *zap.Logger) (*progress.Hub, *http.Server, error) {
	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		promSink, err := sinks.NewPrometheusSink(registry)
		if err != nil {
			return nil, nil, err
		}
		sinkList = append(sinkList, promSink)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinkList...)
	return hub, srv, nil
}

func logReport(logger *zap.Logger, report harvest.Report) {
	logger.Info("harvest report",
		zap.String("run_id", report.RunID),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.FailureCount()),
		zap.Int("failed_retryable", report.FailedRetryable),
		zap.Int("skipped_cached", report.SkippedCached),
		zap.Int("retries", report.Retries),
		zap.Int("rejected_utterances", report.RejectedUtterances),
		zap.Strings("short_pages", report.ShortPages),
		zap.Bool("limiter_saturated", report.LimiterSaturated),
	)
	for key, reason := range report.Failed {
		logger.Warn("failed key", zap.String("key", key), zap.String("reason", reason))
	}
}
