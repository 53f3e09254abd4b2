package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/coxyhq/coxy/internal/app"
	"github.com/coxyhq/coxy/internal/config"
	"github.com/coxyhq/coxy/internal/env"
	"github.com/coxyhq/coxy/internal/logger"
	"github.com/coxyhq/coxy/internal/version"
	"github.com/coxyhq/coxy/pkg/format"
	"github.com/coxyhq/coxy/pkg/nerdstats"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", version.Name, err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	lcfg := buildLoggerConfig(cfg)
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application, err := app.New(startTime, cfg, styledLogger)
	if err != nil {
		styledLogger.Error("Failed to create application", "error", err)
		fmt.Fprintf(os.Stderr, "%s: failed to create application: %v\n", version.Name, err)
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		styledLogger.Error("Failed to start application", "error", err)
		fmt.Fprintf(os.Stderr, "%s: failed to start application: %v\n", version.Name, err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("coxy has shutdown")
}

func reportProcessStats(log logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
	)

	if stats.NumGC > 0 {
		log.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
		)
	}

	log.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"goroutines", stats.NumGoroutines,
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}

// buildLoggerConfig creates logger config from environment variables with defaults
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	level := cfg.LogLevel
	if level == "" {
		level = env.GetEnvOrDefault("COXY_LOG_LEVEL", "info")
	}
	return &logger.Config{
		Level:      level,
		FileOutput: env.GetEnvBoolOrDefault("COXY_FILE_OUTPUT", false),
		LogDir:     env.GetEnvOrDefault("COXY_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("COXY_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("COXY_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("COXY_MAX_AGE", 30),
		Theme:      cfg.Theme,
	}
}
