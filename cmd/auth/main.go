package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conduit-auth/internal/auth"
	"conduit-auth/internal/config"
	currentUser "conduit-auth/internal/http_server/handlers/current_user"
	forgotPassword "conduit-auth/internal/http_server/handlers/forgot_password"
	"conduit-auth/internal/http_server/handlers/health"
	"conduit-auth/internal/http_server/handlers/login"
	"conduit-auth/internal/http_server/handlers/logout"
	"conduit-auth/internal/http_server/handlers/refresh"
	"conduit-auth/internal/http_server/handlers/register"
	resendEmail "conduit-auth/internal/http_server/handlers/resend_verification"
	resetPassword "conduit-auth/internal/http_server/handlers/reset_password"
	verifyEmail "conduit-auth/internal/http_server/handlers/verify_email"
	"conduit-auth/internal/http_server/middleware/authn"
	sl "conduit-auth/internal/lib/logger"
	"conduit-auth/internal/rabbitmq"
	"conduit-auth/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting auth service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer msgBroker.Close()

	authService := auth.New(
		log,
		storage,
		storage,
		storage,
		storage,
		msgBroker,
		cfg.Tokens,
		cfg.BaseURL,
	)

	router := setupRouter(log, authService)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(log *slog.Logger, authService *auth.Auth) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", health.New())

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", register.New(log, validate, authService))
		r.Post("/users/login", login.New(log, validate, authService))

		r.With(authn.New(log, authService)).Get("/user", currentUser.New(log))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/verify-email", verifyEmail.New(log, authService))
			r.Post("/resend-verification", resendEmail.New(log, validate, authService))
			r.Post("/forgot-password", forgotPassword.New(log, validate, authService))
			r.Post("/reset-password", resetPassword.New(log, validate, authService))
			r.Post("/refresh", refresh.New(log, validate, authService))
			r.Post("/logout", logout.New(log, validate, authService))
		})
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
