package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/events"
	"github.com/cornerstone/cornerstone-backend/internal/auth/handler"
	"github.com/cornerstone/cornerstone-backend/internal/auth/jwt"
	"github.com/cornerstone/cornerstone-backend/internal/auth/migrations"
	"github.com/cornerstone/cornerstone-backend/internal/auth/repository"
	"github.com/cornerstone/cornerstone-backend/internal/auth/service"
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

const serviceName = "auth-service"

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment).SetLevel(cfg.Log.Level)
	log.Info().Msg("starting Auth Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	var (
		rmq       *messaging.RabbitMQ
		publisher *events.UserEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewUserEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else if cfg.Auth.EmailMode != config.EnvDevelopment {
		log.Warn().Msg("RabbitMQ disabled; verification e-mails cannot be requested")
	}

	jwtManager := jwt.NewManager(&cfg.JWT)
	authService := service.NewAuthService(
		db,
		repository.NewUserRepository(db),
		repository.NewVerificationRepository(db),
		jwtManager,
		publisher,
		cfg.Auth,
		log,
	)
	authHandler := handler.NewAuthHandler(authService, cfg.JWT.CookieName, config.IsProductionLike(), log)

	reg := metrics.New(serviceName)

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
		ExposedHeaders:   []string{"X-Request-ID"},
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

	r.Route("/api/v1/auth", authHandler.Routes(httputil.Authenticate(jwtManager, cfg.JWT.CookieName)))

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
