package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto_feed/internal/app"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "net/http/pprof" // For pprof profiling
)

const (
	configPath      = "configs/config.yaml"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Pprof + metrics server
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		bootstrap.Collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	http.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connectors": bootstrap.Status(),
			"markets":    bootstrap.Dispatcher.Markets(),
			"prices":     bootstrap.Prices.GetAllData(),
		})
	})
	go func() {
		slog.Info("🕵️ Debug server started", slog.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
			slog.Error("Debug server failed", slog.Any("error", err))
		}
	}()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Dispatcher + connectors
	bootstrap.Start(ctx)
	slog.InfoContext(ctx, "✨ Market feed fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	bootstrap.Shutdown(shutdownTimeout)
	processed, dropped := bootstrap.Dispatcher.Stats()
	slog.Info("Bye", slog.Uint64("processed", processed), slog.Uint64("dropped", dropped))
}
