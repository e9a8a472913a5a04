package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/alert"
	"github.com/templedesk/api/internal/config"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/events"
	"github.com/templedesk/api/internal/gateway"
	"github.com/templedesk/api/internal/ledger"
	"github.com/templedesk/api/internal/payment"
	"github.com/templedesk/api/internal/router"
	"github.com/templedesk/api/internal/service"
	"github.com/templedesk/api/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Unable to create database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Unable to ping database", zap.Error(err))
	}
	logger.Info("Connected to database")

	alerter, err := alert.NewSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, logger)
	if err != nil {
		logger.Fatal("Failed to init sentry", zap.Error(err))
	}
	defer alerter.Flush(2 * time.Second)

	queries := database.New(pool)
	bus := events.NewBus(alerter, logger)

	salesOrders := service.NewSalesOrderService(queries, pool,
		func(db database.DBTX) service.SalesOrderStore { return database.New(db) },
		logger,
	)
	salesOrders.RegisterHandlers(bus)

	deliveryOrders := service.NewDeliveryOrderService(queries, pool,
		func(db database.DBTX) service.DeliveryOrderStore { return database.New(db) },
		bus, logger,
	)

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:        cfg.Ledger.BaseURL,
		Token:          cfg.Ledger.Token,
		RatePerSecond:  cfg.Ledger.RatePerSecond,
		ARAccount:      cfg.Ledger.ARAccount,
		RevenueAccount: cfg.Ledger.RevenueAccount,
		TaxAccount:     cfg.Ledger.TaxAccount,
	}, logger)
	invoices := service.NewInvoiceService(queries, pool,
		func(db database.DBTX) service.InvoiceStore { return database.New(db) },
		ledgerClient, bus, logger,
	)

	hub := ws.NewHub(cfg.Gateway.AllowedOrigins, logger)
	go hub.Run(ctx)

	stripeGateway := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})
	manager := payment.NewManager(payment.Config{
		Timeout:        cfg.Gateway.Timeout,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, invoices, stripeGateway, initLocker(ctx, cfg.Redis, logger), hub, alerter, logger)
	invoices.SetCheckout(manager)

	if n, err := manager.RecoverPending(ctx); err != nil {
		logger.Error("Failed to recover pending gateway payments", zap.Error(err))
	} else if n > 0 {
		logger.Info("Recovered pending gateway payments", zap.Int("count", n))
	}

	r := router.New(router.Deps{
		Config:         cfg,
		Queries:        queries,
		Pool:           pool,
		Hub:            hub,
		SalesOrders:    salesOrders,
		DeliveryOrders: deliveryOrders,
		Invoices:       invoices,
		Payments:       manager,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway sessions did not finish", zap.Error(err))
	}

	logger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

// initLocker uses redis when it answers and falls back to an in-process lock,
// which only holds for a single instance.
func initLocker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) payment.Locker {
	if cfg.Addr == "" {
		logger.Warn("redis not configured, using in-process invoice locks")
		return payment.NewMemoryLocker()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process invoice locks", zap.Error(err))
		rdb.Close()
		return payment.NewMemoryLocker()
	}
	return payment.NewRedisLocker(rdb)
}
