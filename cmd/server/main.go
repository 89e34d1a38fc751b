package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/osauer/greeting"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	greeting.SetDefaultLogger(logger)

	config, err := greeting.LoadConfig()
	if err != nil {
		logger.Error("Invalid configuration.", "error", err)
		os.Exit(1)
	}

	srv, err := greeting.NewServer(greeting.WithConfig(config))
	if err != nil {
		logger.Error("Failed to create server.", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("Server failed.", "error", err)
		os.Exit(1)
	}
}
