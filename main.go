package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/config"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/httpapi"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/reconcile"
	"github.com/michael-freling/file-drive/internal/tree"
	"github.com/michael-freling/file-drive/internal/xlog"
	"golang.org/x/sync/errgroup"
)

// configPathVariable points at a configuration file other than the default.
const configPathVariable = "FILE_DRIVE_CONFIG"

func main() {
	conf, err := config.ReadConfig(os.Getenv(configPathVariable))
	if err != nil {
		log.Fatalf("config.ReadConfig: %v", err)
	}
	if err := config.EnsureDirectories(conf); err != nil {
		log.Fatalf("config.EnsureDirectories: %v", err)
	}
	logger, logFile, err := xlog.New(conf)
	if err != nil {
		log.Fatalf("xlog.New: %v", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	fmt.Printf("log is output in a directory: %s\n", conf.LogDirectory)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runMain(ctx, conf, logger); err != nil {
		logger.Error("runMain", "error", err)
		stop()
		logFile.Close()
		os.Exit(1)
	}
}

func runMain(ctx context.Context, conf config.Config, logger *slog.Logger) error {
	dbClient, err := db.FromConfig(conf, logger)
	if err != nil {
		return fmt.Errorf("db.FromConfig: %w", err)
	}
	defer dbClient.Close()
	if err := dbClient.Migrate(); err != nil {
		return fmt.Errorf("dbClient.Migrate: %w", err)
	}

	blobStore, err := blob.FromConfig(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("blob.FromConfig: %w", err)
	}
	defer blobStore.Close()

	var m *metrics.Metrics
	if conf.Metrics.Enabled {
		m = metrics.New()
	}

	treeService := tree.NewService(
		logger,
		dbClient,
		blobStore,
		tree.WithMetrics(m),
		tree.WithBlobRemovalConcurrency(conf.Tree.BlobRemovalConcurrency),
	)
	server := httpapi.NewServer(
		logger,
		treeService,
		httpapi.Config{
			OwnerHeader:   conf.Server.OwnerHeader,
			MaxUploadSize: int64(conf.Storage.MaxObjectSize),
		},
		httpapi.WithMetrics(m),
		httpapi.WithHealthCheck(dbClient.Ping),
	)
	httpServer := &http.Server{
		Addr:    conf.Server.Address,
		Handler: server.Handler(),
	}

	group, ctx := errgroup.WithContext(ctx)
	if conf.Sweep.Enabled {
		sweeper := reconcile.NewSweeper(
			logger,
			dbClient,
			blobStore,
			reconcile.OptionsFromConfig(conf.Sweep),
			reconcile.WithMetrics(m),
		)
		group.Go(func() error {
			sweeper.Run(ctx, conf.Sweep.Interval)
			return nil
		})
	}
	group.Go(func() error {
		logger.Info("Starting a server", "address", conf.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("httpServer.ListenAndServe: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down the server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conf.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpServer.Shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}
