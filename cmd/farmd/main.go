package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/orrn/printfarm/internal/alert"
	"github.com/orrn/printfarm/internal/api"
	"github.com/orrn/printfarm/internal/archive"
	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/core"
	"github.com/orrn/printfarm/internal/db"
	"github.com/orrn/printfarm/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	store := db.NewStore(db.GetDB())

	// Alert delivery, with the webhook sink only when one is configured.
	var sinks []alert.Sink
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.WebhookURL, cfg.Alerts.Secret, cfg.Alerts.Timeout))
	}
	alerts := alert.NewDispatcher(store, cfg.Alerts, sinks...)
	alerts.Start()
	defer alerts.Stop()

	archiver, err := archive.NewArchiver(store, cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to create archiver: %v", err)
	}
	archiver.Start()
	defer archiver.Stop()

	sched := scheduler.New(store, &cfg.Scheduler)
	trigger := scheduler.NewTrigger(sched)
	if err := trigger.Start(cfg.Scheduler.CronSchedule); err != nil {
		log.Fatalf("Failed to start scheduler trigger: %v", err)
	}
	defer trigger.Stop()

	correlator := core.NewCorrelator(cfg.Scheduler.StaleAfter, cfg.Scheduler.CandidateLimit)
	recorder := core.NewRecorder(store, correlator, alerts, archiver, trigger)
	monitor := core.NewMonitor()
	registry := core.NewRegistry(store, &cfg.Fleet, monitor, recorder, alerts, trigger)
	defer registry.Stop()

	connectConfiguredPrinters(store, registry)

	router := api.NewRouter(store, registry, sched, archiver)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[farmd] listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[farmd] shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[farmd] HTTP shutdown error: %v", err)
	}

	log.Println("[farmd] shutdown complete")
}

// connectConfiguredPrinters starts poll workers for every known printer with
// an api_url. An unreachable printer is logged and skipped; it can be
// connected later through the API once it is back.
func connectConfiguredPrinters(store *db.Store, registry *core.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	printers, err := store.Printers.List(ctx)
	if err != nil {
		log.Printf("[farmd] failed to list printers: %v", err)
		return
	}
	for _, p := range printers {
		if p.APIUrl == "" {
			continue
		}
		adapter := core.NewPollAdapter(p.APIUrl, 10*time.Second)
		if err := registry.Register(ctx, p.ID, adapter); err != nil {
			log.Printf("[farmd] printer %d (%s) not connected: %v", p.ID, p.Name, err)
			continue
		}
		log.Printf("[farmd] printer %d (%s) connected via %s", p.ID, p.Name, p.APIUrl)
	}
}
