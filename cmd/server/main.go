// Package main is the entry point for the geosocial server.
//
// Configuration comes from an optional YAML file (-config flag or
// GEOSOCIAL_CONFIG) overlaid with environment variables; see
// internal/config for the full list. JWT_SECRET is required.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/geosocial/internal/config"
	"github.com/sakif/geosocial/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("GEOSOCIAL_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Bootstrap logger until the configured one exists.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN != ":memory:" {
		dir := filepath.Dir(cfg.Store.DSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.LogLevel() // checked by Validate
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSONLogs() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
