package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/config"
	"github.com/ALOK9821/replit-clone/internal/database"
	"github.com/ALOK9821/replit-clone/internal/handlers"
	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
	"github.com/ALOK9821/replit-clone/internal/mirror"
)

func main() {
	config.Load()

	if err := logging.Init(logging.Config{Level: config.Cfg.LogLevel, Format: config.Cfg.LogFormat}); err != nil {
		log.Fatalf("Logger init: %v", err)
	}
	defer logging.Sync()

	if err := database.Init(); err != nil {
		logging.L().Fatal("database init", zap.Error(err))
	}
	defer database.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := mirror.NewS3Store(sigCtx, mirror.S3Config{
		Endpoint:  config.Cfg.S3Endpoint,
		Bucket:    config.Cfg.S3Bucket,
		Region:    config.Cfg.S3Region,
		AccessKey: config.Cfg.S3AccessKey,
		SecretKey: config.Cfg.S3SecretKey,
	})
	if err != nil {
		logging.L().Fatal("object store init", zap.Error(err))
	}
	handlers.Mirror = mirror.New(store, mirror.WithConcurrency(config.Cfg.CopyConcurrency))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/project", handlers.CreateProject)
	r.Get("/project/{id}", handlers.GetProject)

	srv := &http.Server{
		Addr:    config.Cfg.InitListenAddr,
		Handler: r,
	}

	go func() {
		logging.Info("init service starting",
			zap.String("addr", config.Cfg.InitListenAddr), zap.String("bucket", store.Bucket()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Fatal("server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}
	logging.Info("init service stopped")
}
