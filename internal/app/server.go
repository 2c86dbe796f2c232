package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	intrnl "droproom/internal"
	"droproom/internal/cleanup"
	"droproom/internal/filestore"
	"droproom/internal/storage"
)

// roomStore is what both the live store and its degraded stand-in provide.
type roomStore interface {
	intrnl.RoomStore
	cleanup.Rooms
	Close() error
}

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr        string
	server      *http.Server
	app         *intrnl.Server
	store       roomStore
	stopCleanup context.CancelFunc
	cleanupDone chan struct{}
	logger      *slog.Logger
	done        chan struct{}
	err         error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Server exposes the request handlers, mostly for tests.
func (h *ServerHandle) Server() *intrnl.Server {
	return h.app
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the room store, selects the file backend, starts the
// cleanup loop and serves in the background. Cancelling ctx shuts it down.
func RunServer(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*ServerHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(filestore.Config{
		UploadDir:     cfg.UploadDir,
		PublicBaseURL: cfg.PublicBaseURL,
		Cloudinary:    cfg.Cloudinary,
	})
	if err != nil {
		return nil, fmt.Errorf("file backend: %w", err)
	}
	logger.Info("file backend selected", "backend", files.Name())

	store := openStore(cfg.DBPath, logger)
	metrics := intrnl.NewMetrics()
	coordinator := cleanup.New(store, files,
		cleanup.WithLogger(logger),
		cleanup.WithRecorder(metrics),
		cleanup.WithTimeout(cfg.StorageTimeout),
	)
	server := intrnl.NewServer(store, files, coordinator, intrnl.Config{
		MaxFileSize:    int64(cfg.MaxFileSize),
		StorageTimeout: cfg.StorageTimeout,
		PublishTimeout: cfg.PublishTimeout,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
		UploadRate:     cfg.UploadRate,
		UploadBurst:    cfg.UploadBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	}, logger, metrics)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		server.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	httpServer.RegisterOnShutdown(server.Close)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	handle := &ServerHandle{
		addr:        listener.Addr().String(),
		server:      httpServer,
		app:         server,
		store:       store,
		stopCleanup: stopCleanup,
		cleanupDone: make(chan struct{}),
		logger:      logger,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(handle.cleanupDone)
		coordinator.Run(cleanupCtx, schedule)
	}()

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.stopCleanup()
	<-h.cleanupDone
	h.app.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Error("store close failed", "error", err)
	}
	h.err = err
}

// openStore falls back to a store that fails every call, so the process
// stays up and health checks keep answering while persistence is down.
func openStore(path string, logger *slog.Logger) roomStore {
	if isFilePath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			logger.Error("create db dir failed", "path", path, "error", err)
		}
	}
	store, err := storage.NewStore(path)
	if err != nil {
		logger.Error("room store unavailable", "path", path, "error", err)
		return storage.NewUnavailable(err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		logger.Error("room store migration failed", "path", path, "error", err)
		return storage.NewUnavailable(err)
	}
	logger.Info("room store ready", "path", path)
	return store
}

func isFilePath(path string) bool {
	return path != "" &&
		!strings.HasPrefix(path, "file:") &&
		!strings.HasPrefix(path, ":memory:") &&
		!strings.HasPrefix(path, "sqlite://")
}
