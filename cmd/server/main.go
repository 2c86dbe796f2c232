package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	intrnl "droproom/internal"
	"droproom/internal/app"
	"droproom/internal/logging"
)

func main() {
	// A missing .env is the normal case in production.
	_ = godotenv.Load(".env")

	configPath := flag.StringP("config", "c", os.Getenv("DROPROOM_CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config and PORT)")
	dbPath := flag.String("db", "", "SQLite database path")
	uploadDir := flag.String("upload-dir", "", "directory for locally stored uploads")
	publicURL := flag.String("public-url", "", "base URL used for local download links")
	maxSize := flag.String("max-file-size", "", "upload size limit, e.g. 10MB")
	cleanupEvery := flag.Duration("cleanup-interval", 0, "interval between expired room sweeps")
	cleanupCron := flag.String("cleanup-cron", "", "cron expression for expired room sweeps")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	logFile := flag.String("log-file", "", "also write JSON logs to this rotated file")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("droproom", intrnl.Version)
		return
	}

	cfg, err := app.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flag.CommandLine.Changed("addr") {
		cfg.Addr = *addr
	}
	if flag.CommandLine.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flag.CommandLine.Changed("upload-dir") {
		cfg.UploadDir = *uploadDir
	}
	if flag.CommandLine.Changed("public-url") {
		cfg.PublicBaseURL = *publicURL
	}
	if flag.CommandLine.Changed("max-file-size") {
		n, err := app.ParseByteSize(*maxSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg.MaxFileSize = app.ByteSize(n)
	}
	if flag.CommandLine.Changed("cleanup-interval") {
		cfg.CleanupInterval = *cleanupEvery
	}
	if flag.CommandLine.Changed("cleanup-cron") {
		cfg.CleanupCron = *cleanupCron
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flag.CommandLine.Changed("log-file") {
		cfg.LogFile = *logFile
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("server failed to start", "error", err)
		stop()
		_ = logger.Close()
		os.Exit(1)
	}
	logger.Info("droproom listening", "addr", handle.Addr(), "version", intrnl.Version)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := handle.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := handle.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
	}
}
