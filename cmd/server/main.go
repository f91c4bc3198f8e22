// Package main runs the TaskDeck backend: the offline write queue, its REST
// surface, and the WebSocket event stream.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kimhsiao/taskdeck/backend/internal/config"
	"github.com/kimhsiao/taskdeck/backend/internal/db"
	"github.com/kimhsiao/taskdeck/backend/internal/logging"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/dispatcher"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/monitor"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/queue"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/scheduler"

	"github.com/kimhsiao/taskdeck/backend/cmd/server/handlers"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load config", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	store, err := queue.NewSQLiteStore(database)
	if err != nil {
		logging.Error("Failed to initialize queue store", err, nil)
		os.Exit(1)
	}

	q, err := queue.New(store)
	if err != nil {
		logging.Error("Failed to restore queue state", err, nil)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := NewWSHub()

	disp := dispatcher.New(cfg.RemoteBaseURL, nil)
	sched := scheduler.New(q, disp, cfg.RetryBackoff, scheduler.WithEvents(wsHub))

	mon := monitor.New(monitor.NewHTTPProber(cfg.RemoteBaseURL), sched, cfg.ProbeInterval,
		monitor.WithListener(wsHub))
	mon.Start(ctx)
	defer mon.Stop()

	// An enqueue while online starts delivering right away
	q.SetDrainHook(func() {
		if mon.IsOnline() {
			sched.TriggerDrain(ctx)
		}
	})

	queueHandler := handlers.NewQueueHandler(q, sched, mon)
	queueHandler.SetWebSocketHub(wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"taskdeck-backend"}`))
	})
	mux.HandleFunc("POST /api/queue/operations", queueHandler.Enqueue)
	mux.HandleFunc("GET /api/queue/operations", queueHandler.ListAll)
	mux.HandleFunc("GET /api/queue/pending", queueHandler.ListPending)
	mux.HandleFunc("GET /api/queue/failed", queueHandler.ListFailed)
	mux.HandleFunc("DELETE /api/queue/failed", queueHandler.ClearFailed)
	mux.HandleFunc("POST /api/queue/failed/retry", queueHandler.RetryFailed)
	mux.HandleFunc("GET /api/queue/status", queueHandler.Status)
	mux.HandleFunc("GET /api/ws", wsHub.HandleWebSocket)

	server := &http.Server{
		Addr:    cfg.APIBind,
		Handler: mux,
	}

	go func() {
		logging.Info("TaskDeck backend listening", map[string]interface{}{
			"bind":       cfg.APIBind,
			"remote_api": cfg.RemoteBaseURL,
			"pending":    q.Len(),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err, nil)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Graceful shutdown failed", err, nil)
	}
}
