// Command voicebridge runs the ACS <-> Copilot Studio voice bridge:
// it answers incoming calls, relays recognized speech into a Direct
// Line conversation, and plays the bot's replies back to the caller.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/callstore"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/config"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/directline"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/metrics"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/session"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/telephony"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Main] Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional call history persistence.
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("[Main] Database connection failed: %v", err)
		}
		defer pool.Close()
	}
	store := callstore.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("[Main] Schema setup failed: %v", err)
	}

	bridgeMetrics := metrics.New(nil, cfg.Telemetry.SoftCallCeiling)

	registry := session.NewRegistry()
	botClient := directline.NewClient(cfg.Bot.Endpoint, cfg.Bot.Secret)
	acsClient := telephony.NewACSClient(cfg.ACS.Endpoint, cfg.ACS.AccessKey, cfg.ACS.VoiceName)

	orchestrator, err := telephony.NewOrchestrator(telephony.Config{
		Registry: registry,
		Bot:      botClient,
		Control:  acsClient,
		Recorder: store,
		Metrics:  bridgeMetrics,
		Greeting: cfg.Bot.Greeting,
	})
	if err != nil {
		log.Fatalf("[Main] Orchestrator setup failed: %v", err)
	}

	handlers := telephony.NewHandlers(orchestrator, acsClient, cfg.Server.CallbackBaseURL+"/api/calls/callbacks")

	// Surface calls that stopped producing activity; teardown stays
	// webhook-driven.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orchestrator.SweepIdleSessions(30 * time.Minute)
			}
		}
	}()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: cfg.Server.Listen, Handler: mux}

	metricsServer := &http.Server{Addr: cfg.Telemetry.MetricsListen, Handler: promhttp.Handler()}
	go func() {
		log.Printf("[Main] Metrics listening on %s", cfg.Telemetry.MetricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Main] Metrics server: %v", err)
		}
	}()

	go func() {
		log.Printf("[Main] Listening on %s", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Shutdown error: %v", err)
	}
	metricsServer.Shutdown(shutdownCtx)
}
