package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nojoin/healthwatch/internal/alerts"
	"github.com/nojoin/healthwatch/internal/config"
	"github.com/nojoin/healthwatch/internal/notify"
	"github.com/nojoin/healthwatch/internal/probe"
	"github.com/nojoin/healthwatch/internal/sampler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("healthwatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"poll_interval", cfg.Monitor.PollInterval,
		"grace_period", cfg.Monitor.GracePeriod,
		"conditions", len(cfg.Monitor.Conditions),
		"backend_url", cfg.Monitor.BackendURL,
		"companion_url", cfg.Monitor.CompanionURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Probe set — one HTTP client shared by every probe.
	client := probe.NewClient(cfg.Monitor.ProbeTimeout)
	probes := sampler.Probes{
		Backend:     probe.Backend(client, cfg.Monitor.BackendURL),
		Database:    probe.Database(client, cfg.Monitor.BackendURL),
		Worker:      probe.Worker(client, cfg.Monitor.BackendURL),
		Companion:   probe.CompanionStatus(client, cfg.Monitor.CompanionURL),
		AudioInput:  probe.AudioLevel(client, cfg.Monitor.CompanionURL, "input"),
		AudioOutput: probe.AudioLevel(client, cfg.Monitor.CompanionURL, "output"),
		Recording:   probe.CompanionStatus(client, cfg.Monitor.CompanionURL),
	}

	smp, err := sampler.New(cfg.Monitor.PollInterval, cfg.Monitor.ProbeTimeout, probes)
	if err != nil {
		slog.Error("failed to build sampler", "err", err)
		os.Exit(1)
	}

	// Notification hub — serves the desktop UI over loopback.
	hub := notify.New()
	go hub.Run(ctx)

	mgr, err := alerts.New(cfg.Monitor, hub)
	if err != nil {
		slog.Error("failed to build alert manager", "err", err)
		os.Exit(1)
	}
	smp.Subscribe(mgr.OnSnapshot)

	// Watch config file — the condition table is static per process, so a
	// change is logged as requiring a restart rather than applied live.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.Warn("config changed on disk — restart to apply",
				"conditions", len(updated.Monitor.Conditions))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/alerts", hub.ServeList)

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Monitor.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("alert hub listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "err", err)
		}
	}()

	smp.Start()

	<-ctx.Done()
	slog.Info("healthwatch shutting down")

	// Stop polling first so no snapshot races the teardown, then retract
	// every open notification exactly once.
	smp.Stop()
	mgr.Teardown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
}
