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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/api"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/config"
)

func main() {
	_ = godotenv.Load()

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	if serverConfig.Environment == "development" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	ctx := context.Background()
	handlers, closeStores, err := serverConfig.BuildHandlers(ctx)
	if err != nil {
		slog.Error("Failed to build handlers", "err", err)
		os.Exit(1)
	}
	defer closeStores()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           routes(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Upload policy server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"storage", serverConfig.StorageURL,
			"grants", serverConfig.Issuer() != nil,
			"token_auth", serverConfig.JWTSecret != "")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}

	slog.Info("Server exiting")
}

func routes(handlers *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", api.Health)
	r.Mount("/", handlers.Routes())

	return r
}
