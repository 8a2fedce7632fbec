package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codehuddle/backend/internal/api"
	"github.com/codehuddle/backend/internal/auth"
	"github.com/codehuddle/backend/internal/config"
	"github.com/codehuddle/backend/internal/db"
	"github.com/codehuddle/backend/internal/exec"
	"github.com/codehuddle/backend/internal/registry"
	"github.com/codehuddle/backend/internal/ws"
)

func main() {
	cfg := config.FromEnv()

	if cfg.JWTSecret == "" {
		log.Fatal("HUDDLE_JWT_SECRET must be set")
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	reg := registry.New(database)
	janitor := registry.NewJanitor(reg, registry.JanitorConfig{
		Interval:  cfg.EvictInterval,
		IdleAfter: cfg.EvictIdleAfter,
	})
	janitor.Start()
	defer janitor.Stop()

	hub := ws.NewHub()
	router := ws.NewRouter(hub, reg, database)
	runner := exec.NewClient(cfg.ExecURL, cfg.ExecKey)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(router, verifier, w, r)
	})
	mux.Handle("/", api.New(hub, database, runner, verifier).Routes())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     corsMiddleware(mux),
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Printf("Server starting on :%s", cfg.Port)
	log.Printf("Database: %s", cfg.DBPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?token={token}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms, GET /api/rooms/{id}")
	log.Println("  - Remarks:   GET /api/rooms/{id}/remarks, POST /api/remarks/{id}/resolve")
	log.Println("  - Execute:   POST /api/execute")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
