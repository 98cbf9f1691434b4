package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/careflock/careflock-go/cmd"
	"github.com/careflock/careflock-go/internal/alerting"
	"github.com/careflock/careflock-go/internal/batch"
	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/jobs"
	"github.com/careflock/careflock-go/internal/logging"
	"github.com/careflock/careflock-go/internal/notify"
	"github.com/careflock/careflock-go/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := conf.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(settings.Debug)
	log := logging.StructuredLogger()
	cli := logging.HumanReadableLogger()

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Main.Metrics.Enabled {
		shutdown := serveMetrics(ctx, settings.Main.Metrics.Port, metrics, log)
		defer shutdown()
	}

	runner := batch.NewRunner(store, serviceLogger(settings, "batch", log))

	engine := alerting.NewEngine(store, settings, serviceLogger(settings, "alerting", log))
	alerting.RegisterDefaultChecks(engine, store, settings)
	cli.Info("alert checks registered", "types", engine.RegisteredTypes())

	providers := buildProviders(settings, store, cli)
	dispatcher := notify.NewDispatcher(store, settings, engine.Setting, serviceLogger(settings, "notify", log), providers...)
	dispatcher.SetMetrics(metrics)

	service := jobs.NewService(settings, store, runner, engine, dispatcher, metrics, serviceLogger(settings, "jobs", log))

	rootCmd := cmd.RootCommand(settings, service)
	return rootCmd.ExecuteContext(ctx)
}

// serviceLogger returns a rotating file logger for the named service when file
// logging is on, else the shared console logger.
func serviceLogger(settings *conf.Settings, name string, fallback *slog.Logger) *slog.Logger {
	if !settings.Main.Log.Enabled {
		return fallback
	}
	return logging.ForService(name, settings.Debug)
}

// serveMetrics exposes the prometheus registry on /metrics. The returned
// function shuts the listener down.
func serveMetrics(ctx context.Context, port int, metrics *observability.Metrics, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics endpoint failed", "port", port, "error", err)
		}
	}()
	log.Info("metrics endpoint listening", "port", port)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics endpoint shutdown failed", "error", err)
		}
	}
}

func buildProviders(settings *conf.Settings, store datastore.Interface, cli *slog.Logger) []notify.Provider {
	providers := []notify.Provider{
		notify.NewInAppProvider(store, settings.Notify.Enabled),
	}
	for _, pc := range settings.Notify.Providers {
		if pc.Name == "in-app" {
			continue
		}
		p := notify.NewShoutrrrProvider(pc.Name, pc.Enabled && settings.Notify.Enabled, pc.URLs, pc.Channels, 10*time.Second)
		if err := p.ValidateConfig(); err != nil {
			cli.Warn("disabling misconfigured notification provider",
				"provider", pc.Name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	return providers
}
