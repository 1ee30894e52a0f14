package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bryan-buckman/channelsync/internal/catalog"
	"github.com/bryan-buckman/channelsync/internal/channel"
	"github.com/bryan-buckman/channelsync/internal/config"
	"github.com/bryan-buckman/channelsync/internal/content"
	"github.com/bryan-buckman/channelsync/internal/database"
	"github.com/bryan-buckman/channelsync/internal/logging"
	"github.com/bryan-buckman/channelsync/internal/server"
	"github.com/bryan-buckman/channelsync/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFiles []string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "channelsync",
	Short: "Keep subscription channels filled with fresh content",
	Long: `channelsync turns named subscriptions into channels and keeps every
activated channel populated from a remote content endpoint.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFiles...)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel, cfg.LogDevelopment)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var activateCmd = &cobra.Command{
	Use:   "activate NAME",
	Short: "Create the channel of a subscription if it has none",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions and their channels",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Refresh every activated channel once",
	Args:  cobra.NoArgs,
	RunE:  runTick,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default .env)")
	rootCmd.AddCommand(serveCmd, activateCmd, listCmd, tickCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by every command.
type app struct {
	store     database.Store
	source    *content.Source
	scheduler *syncer.Scheduler
	activator *channel.Activator
}

func newApp(ctx context.Context) (*app, error) {
	store, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	entries, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		store.Close()
		return nil, err
	}
	if _, err := catalog.Seed(ctx, store, entries, logger); err != nil {
		store.Close()
		return nil, err
	}

	source, err := content.NewSource(cfg.Source.Options(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = syncer.WorkersSQLite
		if store.SupportsHighConcurrency() {
			workers = syncer.DefaultWorkers
		}
	}
	var eviction syncer.EvictionPolicy
	if cfg.EvictStale {
		eviction = syncer.EvictMissing{}
	}
	engine := syncer.NewEngine(store, source, eviction, logger)
	scheduler := syncer.NewScheduler(engine, syncer.Options{
		Workers:        workers,
		RefreshTimeout: cfg.RefreshTimeout,
	}, logger)
	activator := channel.NewActivator(store, store, scheduler, channel.Options{
		SyncInterval:      cfg.SyncInterval,
		Workers:           workers,
		ActivationTimeout: cfg.ActivationTimeout,
	}, logger)

	logger.Info("Components ready",
		zap.String("database", store.DatabaseType()),
		zap.Int("workers", workers),
		zap.Duration("sync_interval", cfg.SyncInterval))
	return &app{store: store, source: source, scheduler: scheduler, activator: activator}, nil
}

func (a *app) close() {
	a.activator.Wait()
	if err := a.store.Close(); err != nil {
		logger.Warn("Closing database failed", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.activator.Resume(ctx); err != nil {
		logger.Warn("Some sync jobs could not be resumed", zap.Error(err))
	}

	watchDone := make(chan struct{})
	if cfg.CatalogFile != "" {
		go func() {
			defer close(watchDone)
			if err := catalog.Watch(ctx, cfg.CatalogFile, a.store, logger); err != nil {
				logger.Warn("Catalog watch stopped", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	srv := server.New(server.Deps{
		Store:     a.store,
		Activator: a.activator,
		Scheduler: a.scheduler,
		Source:    a.source,
		Ticker:    syncer.NewTicker(a.scheduler, cfg.TickEvery, logger),
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr) }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("Server stopped", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.Canceled) {
		logger.Warn("Shutdown incomplete", zap.Error(serr))
	}
	<-watchDone
	return err
}

func runActivate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	channelID, err := a.activator.Submit(cmd.Context(), args[0]).Wait(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> channel %d\n", args[0], channelID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	subs, err := a.store.ListSubscriptions(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHANNEL\tDESCRIPTION")
	for _, sub := range subs {
		ch := "-"
		if sub.Active() {
			ch = fmt.Sprint(sub.ChannelID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", sub.Name, ch, sub.Description)
	}
	return w.Flush()
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.activator.Resume(cmd.Context()); err != nil {
		return err
	}
	report := a.scheduler.Tick(cmd.Context(), time.Now())
	for _, o := range report.Outcomes {
		status := "ok"
		if o.Err != nil {
			status = o.Err.Error()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "channel %d: fetched %d, added %d, evicted %d (%s)\n",
			o.ChannelID, o.Fetched, o.Added, o.Evicted, status)
	}
	return report.Err
}
