package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	audioimpl "github.com/transkriptor/backend/external/audio"
	configloader "github.com/transkriptor/backend/external/config"
	historyimpl "github.com/transkriptor/backend/external/history"
	publisherimpl "github.com/transkriptor/backend/external/publisher"
	recognizerimpl "github.com/transkriptor/backend/external/recognizer"
	storageimpl "github.com/transkriptor/backend/external/storage"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/dispatcher"
	"github.com/transkriptor/backend/internal/httpapi"
	"github.com/transkriptor/backend/internal/live"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/samber/do/v2"
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching http server", "port", cfg.ServerPort)
	runServer(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	observability.RegisterDI(injector)
	historyimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	storageimpl.RegisterDI(injector)
	recognizerimpl.RegisterDI(injector)
	publisherimpl.RegisterDI(injector)
	dispatcher.RegisterDI(injector)
	live.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func runServer(cfg *config.Config, injector do.Injector) {
	server, err := do.Invoke[*httpapi.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}
	app := server.App()

	done := make(chan struct{})
	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.ServerPort)); err != nil {
			slog.Error("http server stopped", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	case <-done:
	}
}
