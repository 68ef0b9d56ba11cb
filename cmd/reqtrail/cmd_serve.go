package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reqtrail/reqtrail/internal/api"
	"github.com/reqtrail/reqtrail/internal/config"
	"github.com/reqtrail/reqtrail/internal/db"
	"github.com/reqtrail/reqtrail/internal/db/migrations"
	"github.com/reqtrail/reqtrail/internal/dbpool"
	"github.com/reqtrail/reqtrail/internal/service"
	"github.com/reqtrail/reqtrail/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audit read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		return err
	}

	base := store.Base{Pool: pool, Log: log}
	changeStore := store.NewChangeStore(base)
	requestStore := store.NewRequestStore(base)

	sweeper := service.NewSweeper(changeStore, requestStore, registryFromConfig(cfg), log, service.SweepConfig{
		Days:           cfg.FlushDays,
		Strategy:       cfg.FlushStrategy,
		WindowHours:    cfg.FlushWindowHours,
		BatchSize:      cfg.FlushBatchSize,
		ReindexWeekday: cfg.ReindexWeekday,
	})

	router := api.NewRouter(&api.RouterDeps{
		Log:         log,
		Pool:        pool,
		Requests:    requestStore,
		Changes:     changeStore,
		Sweeper:     sweeper,
		CORSOrigins: cfg.CORSOrigins,
		Version:     config.Version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", cfg.Addr()).Info("server.listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server.stopped")

		return err
	}

	log.Info("server.stopped")

	return nil
}
