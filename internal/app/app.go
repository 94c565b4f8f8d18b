package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/retroplay/netplay-service/internal/config"
)

// App owns the assembled server process. Construction wires dependencies;
// Run serves until the context is cancelled, then drains.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Redis           *redis.Client
	ShutdownTimeout time.Duration
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, redisClient *redis.Client) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Redis:           redisClient,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run blocks until the listener fails or ctx is cancelled. Cancellation
// triggers a graceful drain bounded by ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down", "timeout", a.ShutdownTimeout)
		if err := a.Server.Shutdown(drainCtx); err != nil {
			a.Logger.Error("http drain failed", "error", err)
		}
		if a.Redis != nil {
			if err := a.Redis.Close(); err != nil {
				a.Logger.Warn("redis close failed", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
