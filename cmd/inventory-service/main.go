package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/jwt"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/consumers"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/events"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/handler"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/migrations"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
	"github.com/cornerstone/cornerstone-backend/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "inventory-service"

func main() {
	// Fails fast in staging/production when required config is missing
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment).SetLevel(cfg.Log.Level)
	log.Info().Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	reg := metrics.New(serviceName)
	inventoryMetrics := metrics.NewInventory(reg)

	// Repositories
	sites := repository.NewSiteRepository(db)
	materials := repository.NewMaterialRepository(db)
	ledger := repository.NewLedgerRepository(db)
	txns := repository.NewTransactionRepository(db)
	alerts := repository.NewAlertRepository(db)
	waste := repository.NewWasteRepository(db)
	userCache := repository.NewUserCacheRepository(db)

	// RabbitMQ is optional; without it events are dropped and alerts rely
	// on the periodic scan.
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.InventoryEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}
		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	// Services
	catalog := service.NewCatalogService(sites, materials, ledger, txns, log)
	engine := service.NewTransactionEngine(db, sites, materials, ledger, txns, publisher, inventoryMetrics, log)
	evaluator := service.NewAlertEvaluator(ledger, txns, alerts, publisher, inventoryMetrics, service.AlertPolicyFromConfig(&cfg.Inventory), log)
	reports := service.NewReportService(repository.NewReportRepository(db), waste, alerts, &cfg.Inventory)
	wasteService := service.NewWasteService(waste, sites, materials, log)

	if rmq != nil {
		userConsumer, err := consumers.NewUserEventConsumer(rmq, consumers.NewUserEventHandler(userCache, txns, log), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}
		if err := userConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start user event consumer")
		}

		stockConsumer, err := consumers.NewStockEventConsumer(rmq, consumers.NewStockEventHandler(evaluator, log), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create stock event consumer")
		}
		if err := stockConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start stock event consumer")
		}
	}

	scheduler := service.NewAlertScheduler(evaluator, cfg.Inventory.AlertScanInterval, log)
	scheduler.Start(ctx)

	h := &handler.Handlers{
		Sites:     handler.NewSiteHandler(catalog, log),
		Materials: handler.NewMaterialHandler(catalog, log),
		Movements: handler.NewMovementHandler(engine, catalog, cfg.Inventory.TransactionsPerPage, log),
		Alerts:    handler.NewAlertHandler(evaluator, cfg.Inventory.ItemsPerPage, log),
		Waste:     handler.NewWasteHandler(wasteService, log),
		Reports:   handler.NewReportHandler(reports, log),
	}
	tokens := jwt.NewManager(&cfg.JWT)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(reg.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	r.Handle("/metrics", reg.Handler())

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(httputil.Authenticate(tokens, cfg.JWT.CookieName))
		h.Routes(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stops consumers and the scheduler
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
