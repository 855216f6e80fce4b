package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livesync/internal/config"
	"livesync/internal/logging"
	"livesync/internal/services"
)

func main() {
	configDir := flag.String("config", "config", "Directory holding config.yml and the collection schema")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Shutdown()

	slog.Info("[Info][Main] Starting livesync", "listen", cfg.Server.Addr(), "storage", cfg.Storage.Backend)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("[Error][Main] Failed to initialize services", "error", err)
		os.Exit(1)
	}

	// 3. Start Services
	if err := mgr.Start(context.Background()); err != nil {
		slog.Error("[Error][Main] Failed to start services", "error", err)
		os.Exit(1)
	}
	failed := make(chan error, 1)
	go func() { failed <- mgr.Wait() }()

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("[Info][Main] Shutting down", "signal", sig.String())
	case err := <-failed:
		if err != nil {
			slog.Error("[Error][Main] Service failed, shutting down", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("[Error][Main] Shutdown incomplete", "error", err)
		exitCode = 1
	}
	slog.Info("[Info][Main] All services stopped")

	if exitCode != 0 {
		logging.Shutdown()
		os.Exit(exitCode)
	}
}
