package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildcal/guildcal/internal/bot"
	"github.com/guildcal/guildcal/internal/config"
)

var cfg struct {
	ConfigFile string
	Debug      bool
}

func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "guildcal.yml", "path to the configuration file")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	conf, err := config.Load(cfg.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to load configuration:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := bot.New(ctx, conf, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to create bot:", err)
		os.Exit(1)
	}

	if err := b.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Bot stopped with error:", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
