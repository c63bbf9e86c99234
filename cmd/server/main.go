package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/avalon-recovery/internal/config"
	"github.com/freeeve/avalon-recovery/internal/handler"
	"github.com/freeeve/avalon-recovery/internal/logger"
	"github.com/freeeve/avalon-recovery/internal/middleware"
	"github.com/freeeve/avalon-recovery/internal/model"
	"github.com/freeeve/avalon-recovery/internal/recovery"
	"github.com/freeeve/avalon-recovery/internal/repository"
	"github.com/freeeve/avalon-recovery/internal/repository/memory"
	"github.com/freeeve/avalon-recovery/internal/repository/postgres"
	redisrepo "github.com/freeeve/avalon-recovery/internal/repository/redis"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("snapshotBackend", cfg.SnapshotBackend).Msg("Config loaded")

	// Redis carries the rules engine's live state; always required.
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Snapshot store backend
	var store repository.SnapshotStore
	switch cfg.SnapshotBackend {
	case "postgres":
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("Database migration failed")
		}
		store = postgres.NewSnapshotRepo(db)
	case "memory":
		store = memory.NewStore()
	default:
		store = redisClient
	}

	// Recovery tokens stay valid through the player timeout plus the grace window.
	defaults := model.DefaultRecoveryConfiguration()
	tokenTTL := defaults.Timeouts.PlayerTimeout + defaults.Backoff.GracePeriod
	tokens := recovery.NewTokenManager(cfg.TokenSecret, tokenTTL)

	provider := redisrepo.NewStateProvider(redisClient)

	// WebSocket hub doubles as the notification channel.
	wsHub := handler.NewHub()
	manager := recovery.NewManager(store, tokens, provider, wsHub)

	// Handlers
	recoveryHandler := handler.NewRecoveryHandler(manager)
	wsHandler := handler.NewWSHandler(wsHub, manager)

	// Router
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	api := http.NewServeMux()
	api.HandleFunc("POST /rooms", recoveryHandler.CreateRoom)
	api.HandleFunc("DELETE /rooms/{code}", recoveryHandler.CloseRoom)
	api.HandleFunc("POST /rooms/{code}/save", recoveryHandler.RequestSave)
	api.HandleFunc("POST /rooms/{code}/restore", recoveryHandler.RequestRestore)
	api.HandleFunc("GET /rooms/{code}/recovery", recoveryHandler.GetState)
	api.HandleFunc("GET /rooms/{code}/metrics", recoveryHandler.GetMetrics)
	api.HandleFunc("PATCH /rooms/{code}/recovery/config", recoveryHandler.UpdateConfig)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api))

	// WebSocket (identified via query params, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	// Stop coordinators first so no timer fires mid-shutdown; snapshots stay
	// in the store so rooms resume after restart.
	manager.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
