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
	"github.com/ALOK9821/replit-clone/internal/handlers"
	"github.com/ALOK9821/replit-clone/internal/identity"
	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
	"github.com/ALOK9821/replit-clone/internal/mirror"
	"github.com/ALOK9821/replit-clone/internal/protocol"
	"github.com/ALOK9821/replit-clone/internal/terminal"
	"github.com/ALOK9821/replit-clone/internal/workspace"
)

func main() {
	config.Load()

	if err := logging.Init(logging.Config{Level: config.Cfg.LogLevel, Format: config.Cfg.LogFormat}); err != nil {
		log.Fatalf("Logger init: %v", err)
	}
	defer logging.Sync()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := identity.FromSources(config.Cfg.IdentitySource, config.Cfg.IdentityHeader)
	if err != nil {
		logging.L().Fatal("identity config", zap.Error(err))
	}

	var policy mirror.SyncPolicy = mirror.LocalOnly{}
	if config.Cfg.S3Bucket != "" {
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
		policy, err = mirror.NewSyncPolicy(config.Cfg.MirrorStrategy, mirror.New(store), config.Cfg.MirrorFlushInterval())
		if err != nil {
			logging.L().Fatal("mirror policy", zap.Error(err))
		}
	} else {
		logging.Warn("REPL_S3_BUCKET not set; edits will not be mirrored")
	}

	registry := terminal.NewRegistry()
	terminals, err := terminal.NewManager(registry, terminal.Config{
		Shell: config.Cfg.Shell,
		Dir:   config.Cfg.WorkspaceDir,
	})
	if err != nil {
		logging.L().Fatal("terminal manager", zap.Error(err))
	}

	handlers.Router = protocol.NewRouter(protocol.Config{
		Resolver:  resolver,
		FS:        workspace.New(config.Cfg.WorkspaceDir),
		Sync:      policy,
		Terminals: terminals,
		RateLimit: float64(config.Cfg.TerminalRateLimit),
		RateBurst: config.Cfg.TerminalRateBurst,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", handlers.SessionWS)
	r.Get("/ws", handlers.SessionWS)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logging.Info("runner starting",
			zap.String("addr", config.Cfg.ListenAddr), zap.String("workspace", config.Cfg.WorkspaceDir))
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
	registry.CloseAll()
	if err := policy.Close(); err != nil {
		logging.Error("mirror drain", zap.Error(err))
	}
	logging.Info("runner stopped")
}
