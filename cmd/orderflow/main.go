package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"orderflow/internal/cache"
	"orderflow/internal/config"
	"orderflow/internal/database"
	"orderflow/internal/gateway"
	"orderflow/internal/handler"
	"orderflow/internal/mw"
	"orderflow/internal/service"
	"orderflow/internal/worker"
)

func main() {
	cfg := config.New()

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	var fpCache cache.Cache
	if cfg.RedisAddress != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddress, cfg.CacheTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		fpCache = redisCache
	}

	// Gateways
	alfa := gateway.NewAlfaClient(cfg.AlfaAddress, cfg.GatewayTimeout)
	beta := gateway.NewBetaClient(cfg.BetaAddress, cfg.GatewayTimeout)

	// Services
	orderSvc := service.NewOrderService(db, fpCache)
	cascadeSvc := service.NewCascadeService(orderSvc, alfa, beta)
	reconcileSvc := service.NewReconcileService(orderSvc)
	provisionSvc := service.NewProvisioningService(db, orderSvc,
		service.NewAccountsClient(cfg.AccountsAddress),
		service.NewMailerClient(cfg.MailerAddress),
		cfg.MaxRetries)
	operatorSvc := service.NewOperatorService(db)

	if err := operatorSvc.EnsureOperator(context.Background(), cfg.OperatorLogin, cfg.OperatorPassword); err != nil {
		slog.Error("failed to seed operator", "error", err)
		os.Exit(1)
	}

	// Worker
	provisionWorker := worker.NewProvisionWorker(provisionSvc, cfg.WorkerInterval)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/api/checkout", handler.CheckoutHandler(orderSvc, cascadeSvc))
	r.Get("/api/orders/{id}", handler.OrderStatusHandler(orderSvc))
	r.Post("/api/webhooks/alfa", handler.AlfaWebhookHandler(reconcileSvc))
	r.Post("/api/webhooks/beta", handler.BetaWebhookHandler(reconcileSvc))
	r.Post("/api/operator/login", handler.LoginHandler(operatorSvc, cfg.JWTSecret))

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))

		r.Post("/api/operator/provision/run", handler.RunProvisioningHandler(provisionSvc))
		r.Post("/api/operator/orders/{id}/retry", handler.RetryOrderHandler(orderSvc, provisionSvc))
		r.Post("/api/operator/orders/{id}/cancel", handler.CancelOrderHandler(orderSvc))
		r.Get("/api/operator/orders/{id}/attempts", handler.OrderAttemptsHandler(orderSvc))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go provisionWorker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
