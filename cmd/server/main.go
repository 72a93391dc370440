package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/trial-backend/internal/cases"
	"github.com/DoyleJ11/trial-backend/internal/config"
	"github.com/DoyleJ11/trial-backend/internal/evaluation"
	"github.com/DoyleJ11/trial-backend/internal/httpapi"
	"github.com/DoyleJ11/trial-backend/internal/hub"
	"github.com/DoyleJ11/trial-backend/internal/janitor"
	"github.com/DoyleJ11/trial-backend/internal/logging"
	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	changes := hub.NewHub[store.Change](ctx)

	var (
		repo    store.Repository
		signals store.SignalStore
	)
	if cfg.DatabaseURL == "" {
		mem := store.NewMemoryStore(changes)
		repo, signals = mem, mem
		log.Warn("DATABASE_URL not set, sessions live in memory")
	} else {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		pg := store.NewGormStore(db, changes, cfg.NotifyChannel, log)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo, signals = pg, pg

		listener := store.NewListener(cfg.DatabaseURL, cfg.NotifyChannel, changes, log)
		g.Go(func() error { return listener.Run(ctx) })
	}

	if cfg.RedisURL != "" {
		rs, err := store.NewRedisSignals(cfg.RedisURL, cfg.SignalTTL)
		if err != nil {
			return err
		}
		defer rs.Close()
		signals = rs
	}

	book, err := cases.Default()
	if cfg.CasesFile != "" {
		book, err = cases.Load(cfg.CasesFile)
	}
	if err != nil {
		return fmt.Errorf("case book: %w", err)
	}

	eval := evaluation.New(cfg.Evaluation)
	orch := trial.New(repo, eval, book, log, cfg.Trial)

	jan := janitor.New(janitor.Config{
		Spec:        cfg.JanitorSpec,
		SignalTTL:   cfg.SignalTTL,
		IdleTimeout: cfg.IdleTimeout,
	}, signals, orch, log)
	if err := jan.Start(); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	defer jan.Stop(context.Background())

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Orch:           orch,
			Repo:           repo,
			Signals:        signals,
			Log:            log,
			OriginPatterns: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Strings("cases", book.IDs()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	changes.Close()
	return err
}
