package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speedmonhq/server/internal/config"
	"github.com/speedmonhq/server/internal/logging"
	"github.com/speedmonhq/server/internal/server"
	"github.com/speedmonhq/server/internal/store"
)

func main() {
	logger := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv(ctx)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	var (
		st      store.Store
		cleanup func()
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := store.NewPostgresStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Fatalf("failed to connect to database: %v", err)
		}
		st = pgStore
		cleanup = func() { pgStore.Close() }
		logger.Println("using PostgreSQL store")
	case "memory":
		st = store.NewMemoryStore()
		cleanup = func() {}
		logger.Println("using in-memory store (not for production)")
	default:
		duckStore, err := store.NewDuckDBStore(ctx, cfg.Storage.Path)
		if err != nil {
			logger.Fatalf("failed to open database %q: %v", cfg.Storage.Path, err)
		}
		st = duckStore
		cleanup = func() { _ = duckStore.Close() }
		logger.Printf("using DuckDB store at %s", cfg.Storage.Path)
	}
	defer cleanup()

	srv := server.New(server.Config{
		Addr:         cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, server.Dependencies{
		Logger: logger,
		Store:  st,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("speed monitor server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server error: %v", err)
	}
	logger.Println("server stopped")
}
