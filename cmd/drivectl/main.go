package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/config"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/reconcile"
	"github.com/michael-freling/file-drive/internal/transfer"
	"github.com/michael-freling/file-drive/internal/tree"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		logger.Error("ExecuteContext", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "drivectl",
		Short:         "Maintenance commands for the file drive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")

	migrateCommand := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.ReadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config.ReadConfig: %w", err)
			}
			if err := config.EnsureDirectories(conf); err != nil {
				return fmt.Errorf("config.EnsureDirectories: %w", err)
			}
			dbClient, err := db.FromConfig(conf, logger)
			if err != nil {
				return fmt.Errorf("db.FromConfig: %w", err)
			}
			defer dbClient.Close()

			if err := dbClient.Migrate(); err != nil {
				return fmt.Errorf("dbClient.Migrate: %w", err)
			}
			logger.Info("Migrated the database", "type", conf.Database.Type)
			return nil
		},
	}

	var dryRun bool
	sweepCommand := &cobra.Command{
		Use:   "sweep",
		Short: "Remove blobs that no file refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.ReadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config.ReadConfig: %w", err)
			}
			return runSweep(cmd.Context(), cmd.OutOrStdout(), logger, conf, dryRun)
		},
	}
	sweepCommand.Flags().BoolVar(&dryRun, "dry-run", false, "only report orphan blobs")

	var ownerID string
	var parentID string
	importCommand := &cobra.Command{
		Use:   "import [sourcePath]",
		Short: "Copy a local file or directory into an owner's tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.ReadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config.ReadConfig: %w", err)
			}
			var parent *string
			if parentID != "" {
				parent = &parentID
			}
			return withTreeService(cmd.Context(), logger, conf, func(service *tree.Service) error {
				importer := transfer.NewImporter(logger, service, afero.NewOsFs(), conf.Tree.BlobRemovalConcurrency)
				progressNotifier := transfer.NewProgressNotifier()
				node, err := importer.Import(cmd.Context(), ownerID, args[0], parent, progressNotifier)
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s completed=%d failed=%d\n",
					node.ID, progressNotifier.Completed, progressNotifier.Failed)
				if err != nil {
					return fmt.Errorf("importer.Import: %w", err)
				}
				return nil
			})
		},
	}
	importCommand.Flags().StringVar(&ownerID, "owner", "", "owner of the imported nodes")
	importCommand.Flags().StringVar(&parentID, "parent", "", "folder to import into, the root when empty")
	_ = importCommand.MarkFlagRequired("owner")

	exportCommand := &cobra.Command{
		Use:   "export [id] [destinationDirectory]",
		Short: "Copy a node and its descendants into a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.ReadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config.ReadConfig: %w", err)
			}
			return withTreeService(cmd.Context(), logger, conf, func(service *tree.Service) error {
				exporter := transfer.NewExporter(logger, service, afero.NewOsFs(), conf.Tree.BlobRemovalConcurrency)
				progressNotifier := transfer.NewProgressNotifier()
				err := exporter.Export(cmd.Context(), ownerID, args[0], args[1], progressNotifier)
				fmt.Fprintf(cmd.OutOrStdout(), "completed=%d failed=%d\n",
					progressNotifier.Completed, progressNotifier.Failed)
				if err != nil {
					return fmt.Errorf("exporter.Export: %w", err)
				}
				return nil
			})
		},
	}
	exportCommand.Flags().StringVar(&ownerID, "owner", "", "owner of the exported node")
	_ = exportCommand.MarkFlagRequired("owner")

	rootCommand.AddCommand(migrateCommand, sweepCommand, importCommand, exportCommand)
	return rootCommand
}

func withTreeService(ctx context.Context, logger *slog.Logger, conf config.Config, f func(service *tree.Service) error) error {
	dbClient, err := db.FromConfig(conf, logger)
	if err != nil {
		return fmt.Errorf("db.FromConfig: %w", err)
	}
	defer dbClient.Close()

	blobStore, err := blob.FromConfig(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("blob.FromConfig: %w", err)
	}
	defer blobStore.Close()

	return f(tree.NewService(
		logger,
		dbClient,
		blobStore,
		tree.WithBlobRemovalConcurrency(conf.Tree.BlobRemovalConcurrency),
	))
}

func runSweep(ctx context.Context, out io.Writer, logger *slog.Logger, conf config.Config, dryRun bool) error {
	dbClient, err := db.FromConfig(conf, logger)
	if err != nil {
		return fmt.Errorf("db.FromConfig: %w", err)
	}
	defer dbClient.Close()

	blobStore, err := blob.FromConfig(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("blob.FromConfig: %w", err)
	}
	defer blobStore.Close()

	options := reconcile.OptionsFromConfig(conf.Sweep)
	options.DryRun = options.DryRun || dryRun
	stats, err := reconcile.NewSweeper(logger, dbClient, blobStore, options).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweeper.Sweep: %w", err)
	}
	fmt.Fprintf(out, "scanned=%d young=%d referenced=%d orphans=%d removed=%d errors=%d\n",
		stats.Scanned, stats.Young, stats.Referenced, stats.Orphans, stats.Removed, stats.Errors)
	return nil
}
