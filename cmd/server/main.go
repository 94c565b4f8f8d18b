package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/retroplay/netplay-service/internal/app"
	"github.com/retroplay/netplay-service/internal/config"
	"github.com/retroplay/netplay-service/internal/http/handler"
	"github.com/retroplay/netplay-service/internal/http/router"
	"github.com/retroplay/netplay-service/internal/repository"
	"github.com/retroplay/netplay-service/internal/security"
	"github.com/retroplay/netplay-service/internal/service"
	"github.com/retroplay/netplay-service/internal/signaling"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netplay-service",
		Short: "Netplay session lifecycle and WebRTC signaling relay",
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and signaling gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	repo := repository.NewNetplayRepository(db)

	tokens := security.NewPeerTokenAuthority(cfg.PeerTokenPepper)
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
	quota := service.NewQuotaEnforcer(repo, cfg.MaxSessionsPerHost, cfg.MaxSessionsGlobal)
	svc := service.NewNetplayService(repo, tokens, quota, cfg.SessionTTL)

	var redisClient *redis.Client
	var guard service.AdmissionGuard
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		guard = service.NewRedisAdmissionGuard(redisClient, "netplay", service.DefaultAdmissionGuardPolicy())
	}

	gateway := signaling.NewGateway(svc, repo, jwtMgr, signaling.NewMemoryRegistry(), guard, cfg.AllowedOrigins)

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: router.NewRouter(router.Dependencies{
			Sessions:       handler.NewSessionHandler(svc),
			Signaling:      handler.NewSignalingHandler(gateway),
			JWTManager:     jwtMgr,
			APIRateLimit:   cfg.APIRateLimitRPM,
			EnableOTelHTTP: cfg.OTELHTTPEnabled,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app.New(cfg, logger, server, redisClient).Run(ctx)
}
