package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/Fepozopo/maskedit/pkg/cli"
	"github.com/Fepozopo/maskedit/pkg/config"
	"github.com/Fepozopo/maskedit/pkg/logging"
)

func main() {
	cfg := config.Load()

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Run(ctx, cfg, os.Args[1:])
	stop()
	os.Exit(code)
}
