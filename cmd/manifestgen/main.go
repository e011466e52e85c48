// Command manifestgen runs a single batch event to completion and prints the
// echoed routing fields as JSON. The event is read from -event, or from
// stdin when no file is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/manifestgen/internal/application"
	"github.com/JonMunkholm/manifestgen/internal/config"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	eventPath := flag.String("event", "", "path to the event JSON (default: stdin)")
	flag.Parse()

	loadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ev, err := readEvent(*eventPath)
	if err != nil {
		slog.Error("failed to read event", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.BatchTimeout)
	defer cancel()
	ctx = logging.WithTrigger(ctx, "cli", "")

	app, err := application.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	out, runErr := app.Orchestrator.Handle(ctx, ev)
	app.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write output", "error", err)
	}
	if runErr != nil {
		slog.Error("batch failed", "batch_id", ev.BatchID, "error", runErr)
		os.Exit(1)
	}
}

// loadDotEnv loads files (default .env) without overriding variables that
// are already set, and reports whether anything was loaded.
func loadDotEnv(files ...string) bool {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded, using environment variables", "error", err)
		return false
	}
	slog.Debug("loaded .env file")
	return true
}

func readEvent(path string) (pipeline.Event, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return pipeline.Event{}, err
		}
		defer f.Close()
		r = f
	}

	var ev pipeline.Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return pipeline.Event{}, err
	}
	return ev, nil
}
