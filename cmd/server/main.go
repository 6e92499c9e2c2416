package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/liveloop/loopjam/internal/app"
	"github.com/liveloop/loopjam/internal/config"
	"github.com/liveloop/loopjam/internal/log"
)

func main() {
	defaults := config.Default()

	configPath := flag.String("config", "", "path to config file (default: config.yaml next to the binary)")
	addr := flag.String("addr", defaults.Addr, "HTTP listen address")
	readHeaderTimeout := flag.Duration("read-header-timeout", defaults.ReadHeaderTimeout, "HTTP read header timeout")
	shutdownTimeout := flag.Duration("shutdown-timeout", defaults.ShutdownTimeout, "graceful shutdown timeout")
	logLevel := flag.String("log-level", defaults.LogLevel, "log level (trace..panic)")
	flag.Parse()

	bootLog := log.New(*logLevel)

	cfg, path, err := config.Load(bootLog, *configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}

	// Explicit flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "read-header-timeout":
			cfg.ReadHeaderTimeout = *readHeaderTimeout
		case "shutdown-timeout":
			cfg.ShutdownTimeout = *shutdownTimeout
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting loopjam relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	if err := application.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}
