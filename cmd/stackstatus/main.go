package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stackstatus/internal/backend"
	"stackstatus/internal/config"
	"stackstatus/internal/models"
	"stackstatus/internal/monitor"
	"stackstatus/internal/observability"
	"stackstatus/internal/relay"
	"stackstatus/internal/server"
	"stackstatus/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", ":3000", "address for the dashboard web server")
		once       = flag.Bool("once", false, "refresh once, print the state as JSON and exit")
		testCall   = flag.Bool("test", false, "with -once, also run the demonstration call when the backend is online")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	client := backend.New(cfg.APIBaseURL, time.Duration(cfg.RequestTimeoutSeconds)*time.Second)

	if *once {
		os.Exit(runOnce(client, *testCall))
	}

	historyPath := filepath.Join(cfg.DataDirectory, "probe_history.json")
	store, err := storage.NewProbeStorage(historyPath, cfg.HistoryLimit)
	if err != nil {
		log.Fatalf("initialise storage: %v", err)
	}
	if last, ok := store.Latest(); ok {
		observability.Info("monitor.history_loaded", map[string]interface{}{
			"path":       historyPath,
			"records":    len(store.History()),
			"last_state": last.State.String(),
			"checked_at": last.CheckedAt.Format(time.RFC3339),
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(client, store, time.Duration(cfg.RefreshIntervalSeconds)*time.Second)

	events, err := relay.New(ctx, cfg.Redis.URL, cfg.Redis.Channel)
	if err != nil {
		log.Fatalf("initialise relay: %v", err)
	}
	defer events.Close()
	if events.Enabled() {
		updates, cancel := mon.Subscribe()
		defer cancel()
		go events.Run(ctx, updates)
		observability.Info("relay.enabled", map[string]interface{}{"channel": cfg.Redis.Channel})
	}

	mon.Start()
	defer mon.Stop()

	srv := server.New(*addr, mon, store)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	observability.Info("dashboard.listening", map[string]interface{}{
		"addr":     *addr,
		"base_url": client.BaseURL(),
	})
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// runOnce is the manual trigger from a terminal. The exit code is 0 only when
// the backend is online.
func runOnce(client *backend.Client, testCall bool) int {
	mon := monitor.New(client, nil, 0)
	ctx := context.Background()

	snap := mon.RefreshStatus(ctx)
	if testCall && snap.State == models.StateReachable {
		snap = mon.RunTestCall(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Printf("encode state: %v", err)
		return 2
	}
	if snap.State != models.StateReachable {
		return 1
	}
	return 0
}
