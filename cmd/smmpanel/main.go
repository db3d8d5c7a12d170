// Package main запускает HTTP-сервер SMM-панели.
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

	"github.com/mmeshcher/smmpanel/internal/catalog"
	"github.com/mmeshcher/smmpanel/internal/config"
	"github.com/mmeshcher/smmpanel/internal/handler"
	"github.com/mmeshcher/smmpanel/internal/ledger"
	"github.com/mmeshcher/smmpanel/internal/middleware"
	"github.com/mmeshcher/smmpanel/internal/notify"
	"github.com/mmeshcher/smmpanel/internal/order"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/reconcile"
	"github.com/mmeshcher/smmpanel/internal/repository"
	"github.com/mmeshcher/smmpanel/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	regs, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		sugar.Fatalw("providers configuration error", "error", err.Error())
	}
	providers := make([]provider.Provider, 0, len(regs))
	for _, reg := range regs {
		providers = append(providers, provider.NewHTTPProvider(reg, cfg.ProviderTimeout))
	}
	gateway := provider.NewGateway(providers, logger)

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache catalog.Cache
	if cfg.RedisAddress != "" {
		rc, err := catalog.NewRedisCache(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			sugar.Warnw("catalog cache disabled", "addr", cfg.RedisAddress, "error", err.Error())
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	var notifier notify.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
		}, cfg.SiteURL, logger)
	} else {
		notifier = notify.NewLogNotifier(cfg.SiteURL, logger)
	}

	l := ledger.New(repo, logger)
	cat := catalog.New(repo, gateway, cache, cfg.CatalogCacheTTL, logger)

	svc := service.NewService(repo, service.Components{
		Ledger:   l,
		Orders:   order.NewOrchestrator(repo, l, gateway, logger),
		Sweeper:  reconcile.NewSweeper(repo, gateway, logger, cfg.SweepInterval, cfg.SweepBatch),
		Catalog:  cat,
		Gateway:  gateway,
		Notifier: notifier,
	}, logger)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware,
		handler.WithWebhookSecret(cfg.WebhookSecret),
		handler.WithCORSOrigins(cfg.CORSOrigins),
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка статусов открытых заказов
	g.Go(func() error {
		return svc.StartReconciliation(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting smm panel server", "addr", cfg.RunAddress, "providers", len(providers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
