// Package main запускает HTTP-сервер сервиса расчётов салона.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strands/settlement-system/internal/config"
	"github.com/strands/settlement-system/internal/handler"
	"github.com/strands/settlement-system/internal/loyalty"
	"github.com/strands/settlement-system/internal/middleware"
	"github.com/strands/settlement-system/internal/notify"
	"github.com/strands/settlement-system/internal/repository"
	"github.com/strands/settlement-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var notifyClient *notify.Client
	if cfg.NotifyAddress != "" {
		notifyClient = notify.NewClient(cfg.NotifyAddress)
	}

	var notifier service.Notifier
	if notifyClient != nil {
		notifier = notifyClient
	}

	svc := service.NewService(repo, notifier, logger)
	defer svc.Close()

	var sweepNotifier loyalty.Notifier
	if notifyClient != nil {
		sweepNotifier = notifyClient
	}
	sweeper := loyalty.NewSweeper(repo, sweepNotifier, logger, cfg.SweepInterval)

	customerAuth := middleware.NewAuthMiddleware(cfg.AuthSecret, middleware.CustomerCookieName)
	merchantAuth := middleware.NewAuthMiddleware(cfg.AuthSecret, middleware.MerchantCookieName)
	h := handler.NewHandler(svc, logger, customerAuth, merchantAuth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового учёта лояльности
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting settlement server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
