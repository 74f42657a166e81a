// Command hearlink is the companion relay between a wearable hearing-aid
// device, a processing server and local clients.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hearlink/internal/api"
	"github.com/MrWong99/hearlink/internal/app"
	"github.com/MrWong99/hearlink/internal/config"
	"github.com/MrWong99/hearlink/internal/health"
	"github.com/MrWong99/hearlink/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearlink: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearlink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("hearlink starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Coordinator ───────────────────────────────────────────────────────────
	var coord *app.Coordinator
	opts := []app.Option{app.WithLogLevel(level), app.WithMetrics(metrics)}
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
			coord.ApplyConfig(next, d)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	coord, err = app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise coordinator", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Control API ───────────────────────────────────────────────────────────
	apiOpts := []api.Option{
		api.WithMetrics(metrics),
		api.WithHealth(health.New(coord.HealthCheckers()...)),
		api.WithMetricsHandler(promhttp.Handler()),
	}
	if b := coord.Bridge(); b != nil {
		apiOpts = append(apiOpts, api.WithBridge(cfg.Bridge.Path, b))
	}
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.New(coord, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	slog.Info("relay ready, press Ctrl+C to shut down")

	exit := 0
	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}
	select {
	case err := <-serveErr:
		slog.Error("control API failed", "err", err)
		exit = 1
	default:
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("control API shutdown error", "err", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         hearlink · startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Device", endpoint(cfg.Device.Host, cfg.Device.Port))
	printRow("Server", endpoint(cfg.Processing.Host, cfg.Processing.Port))
	printRow("Link", orUnset(cfg.Link.Address, string(cfg.Link.Transport)))
	printRow("Keywords", orUnset(cfg.Detection.Keywords, ""))
	printRow("Recording", config.RecordingFormat(cfg).String())
	if cfg.Processing.Reconnect.Enabled {
		printRow("Reconnect", "enabled")
	} else {
		printRow("Reconnect", "(disabled)")
	}
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "(disabled)")
	}
	if cfg.Bridge.Enabled {
		printRow("Bridge", cfg.Bridge.Path)
	} else {
		printRow("Bridge", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most n runes, marking the cut with "…".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func endpoint(host, port string) string {
	if host == "" && port == "" {
		return "(not configured)"
	}
	return host + ":" + port
}

func orUnset(value, suffix string) string {
	if value == "" {
		return "(not configured)"
	}
	if suffix != "" {
		return value + " / " + suffix
	}
	return value
}
