// Package main wires together the website analysis service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/api"
	"github.com/Dean-Rough/xray2/internal/assemble"
	"github.com/Dean-Rough/xray2/internal/audit"
	"github.com/Dean-Rough/xray2/internal/clock/system"
	"github.com/Dean-Rough/xray2/internal/config"
	"github.com/Dean-Rough/xray2/internal/content"
	"github.com/Dean-Rough/xray2/internal/fetch"
	"github.com/Dean-Rough/xray2/internal/id/uuid"
	"github.com/Dean-Rough/xray2/internal/logging"
	"github.com/Dean-Rough/xray2/internal/metrics"
	"github.com/Dean-Rough/xray2/internal/pipeline"
	"github.com/Dean-Rough/xray2/internal/provider/firecrawl"
	"github.com/Dean-Rough/xray2/internal/publisher"
	"github.com/Dean-Rough/xray2/internal/remote"
	"github.com/Dean-Rough/xray2/internal/screenshot"
	"github.com/Dean-Rough/xray2/internal/selection"
	storagegcs "github.com/Dean-Rough/xray2/internal/storage/gcs"
	storagelocal "github.com/Dean-Rough/xray2/internal/storage/local"
	storagememory "github.com/Dean-Rough/xray2/internal/storage/memory"
	"github.com/Dean-Rough/xray2/internal/store"
	storememory "github.com/Dean-Rough/xray2/internal/store/memory"
	storepostgres "github.com/Dean-Rough/xray2/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	checkpoints, closeStore, err := buildStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	if cfg.Retention.Enabled {
		if purger, ok := checkpoints.(store.Purger); ok {
			janitor := store.NewJanitor(purger, cfg.Retention.Interval(),
				cfg.Retention.MaxAge(), logger.Named("janitor"))
			go janitor.Run(ctx)
		}
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	events, closeEvents, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closeEvents()

	caller := remote.New(remote.Config{
		MinInterval: time.Duration(cfg.Remote.MinIntervalSeconds) * time.Second,
		MaxAttempts: cfg.Remote.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Remote.BaseDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(cfg.Remote.MaxDelaySeconds) * time.Second,
	}, logger.Named("remote"))

	provider, err := firecrawl.New(firecrawl.Config{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	}, caller, logger.Named("provider"))
	if err != nil {
		logger.Fatal("provider init failed", zap.Error(err))
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	})

	var auditor analysis.AuditRunner
	var auditRunner *audit.Runner
	if cfg.Audit.Enabled {
		auditRunner = audit.New(audit.Config{
			Binary:  cfg.Audit.Binary,
			Timeout: time.Duration(cfg.Audit.TimeoutSeconds) * time.Second,
		}, logger.Named("audit"))
		auditor = auditRunner
	}

	var shots []analysis.ScreenshotCapturer
	if cfg.Screenshot.Enabled {
		capturer, err := screenshot.New(screenshot.Config{
			MaxParallel:       cfg.Screenshot.MaxParallel,
			UserAgent:         cfg.Screenshot.UserAgent,
			NavigationTimeout: time.Duration(cfg.Screenshot.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Screenshot.SettleSeconds) * time.Second,
			MinPlausibleBytes: cfg.Screenshot.MinPlausibleBytes,
		}, logger.Named("screenshot"))
		if err != nil {
			logger.Warn("headless capturer init failed", zap.Error(err))
		} else {
			defer capturer.Close()
			shots = append(shots, capturer)
		}
	}
	if auditRunner != nil {
		// Last-resort screenshot source: mine the audit report.
		shots = append(shots, audit.NewCapturer(auditRunner, logger.Named("audit")))
	}

	runner, err := pipeline.NewRunner(pipeline.Config{
		ScrapeWaitMs:          cfg.Pipeline.ScrapeWaitMs,
		MapLimit:              cfg.Pipeline.MapLimit,
		ScreenshotConcurrency: cfg.Pipeline.ScreenshotConcurrency,
		EventTopic:            cfg.Pipeline.EventTopic,
		ExtractPrompt:         cfg.Pipeline.ExtractPrompt,
	}, pipeline.Deps{
		Store:     checkpoints,
		Provider:  provider,
		Fetcher:   fetcher,
		Shots:     shots,
		Auditor:   auditor,
		Assembler: assemble.New(blobs, clock, logger.Named("assemble")),
		Processor: content.NewProcessor(fetcher, logger.Named("content")),
		Policy: selection.New(selection.Config{
			MaxNavigation: cfg.Selection.MaxNavigation,
			MaxKeyPages:   cfg.Selection.MaxKeyPages,
			ScrapeBudget:  cfg.Selection.ScrapeBudget,
			MinPages:      cfg.Selection.MinPages,
		}),
		Publisher: events,
		Clock:     clock,
		IDs:       idGen,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	apiServer := api.NewServer(checkpoints, runner, blobs, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, clock analysis.Clock) (analysis.Store, func(), error) {
	if cfg.DB.DSN == "" {
		return storememory.New(clock), func() {}, nil
	}
	pg, err := storepostgres.New(ctx, storepostgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
	}, clock)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (analysis.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return storagememory.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (analysis.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return publisher.NewMemory(), func() {}, nil
	}
	ps, err := publisher.NewPubSub(ctx, cfg.PubSub.ProjectID, logger.Named("publisher"))
	if err != nil {
		return nil, nil, err
	}
	return ps, func() {
		if closeErr := ps.Close(); closeErr != nil {
			logger.Warn("close publisher", zap.Error(closeErr))
		}
	}, nil
}
