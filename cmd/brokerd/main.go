package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/littlebaby/bro/internal/configuration"
	"github.com/littlebaby/bro/internal/logging"
)

func main() {
	configDir := flag.String("config", "config", "directory holding application.yml and profile overlays")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "Error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Application.LogLevel)
	slog.SetDefault(logger)
	slog.Info("Starting broker...")

	services, err := NewServices(cfg, logger)
	if err != nil {
		slog.Error("Failed to start broker", "Error", err)
		os.Exit(1)
	}

	slog.Info("Broker Ready", "node", services.Endpoint.Node(), "name", services.Endpoint.Name())
	<-ctx.Done()

	slog.Info("Shutting down broker...")
	services.Stop()
}
