package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/af-corp/oss-relay/internal/config"
	"github.com/af-corp/oss-relay/internal/oneshot"
	"github.com/af-corp/oss-relay/internal/telemetry"
	"github.com/joho/godotenv"
)

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	eventPath := flag.String("event", "", "path to the event JSON (default: stdin)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	// stdout carries the envelope, so logs go to stderr.
	logger := telemetry.NewLogger(os.Stderr, cfg.Telemetry.LogFormat, level)

	var event []byte
	if *eventPath != "" {
		event, err = os.ReadFile(*eventPath)
	} else {
		event, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		logger.Error("failed to read event", "error", err)
		os.Exit(1)
	}

	env := oneshot.Handle(context.Background(), cfg, logger, event)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		logger.Error("failed to write envelope", "error", err)
		os.Exit(1)
	}
	if !env.Success {
		os.Exit(2)
	}
}
