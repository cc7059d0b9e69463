// keyledger runs the encrypted-file access registry over HTTP.
//
// Usage:
//
//	keyledger serve [-config keyledger.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssd-technologies/keyledger/internal/config"
	"github.com/ssd-technologies/keyledger/internal/kvledger"
	"github.com/ssd-technologies/keyledger/internal/registry"
	"github.com/ssd-technologies/keyledger/internal/server"
	"github.com/ssd-technologies/keyledger/internal/storage"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "serve" {
		fmt.Fprintf(os.Stderr, `Usage: keyledger serve [-config path]

Configuration is read from the optional YAML file, then overridden by
PORT and KEYLEDGER_* environment variables.
`)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)
	log := logrus.NewEntry(logger)

	ledger, err := openLedger(cfg, log)
	if err != nil {
		log.Fatalf("Failed to open %s ledger: %v", cfg.Backend, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := registry.Open(ctx, registry.Options{
		Ledger:  ledger,
		Genesis: cfg.Genesis(),
		Logger:  log,
	})
	if err != nil {
		ledger.Close()
		log.Fatalf("Failed to open registry: %v", err)
	}
	defer reg.Close()

	srv := server.New(reg, server.Options{
		MaxBody:       int64(cfg.MaxBody.Bytes()),
		RateLimit:     cfg.RateLimit.Requests,
		RateWindow:    cfg.RateLimit.Window,
		TrustProxy:    cfg.TrustProxy,
		StatsInterval: cfg.StatsInterval,
		Logger:        log,
	})
	srv.StartWorkers(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"listen":  cfg.Listen,
		"backend": cfg.Backend,
		"files":   reg.FileCount(),
	}).Info("keyledger running")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// newLogger builds the process logger from log_level and log_format.
func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// openLedger opens the configured backend under data_dir.
func openLedger(cfg config.Config, log *logrus.Entry) (registry.Ledger, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("memory backend selected, state is lost on exit")
		return registry.NewMemLedger(), nil
	case config.BackendBadger:
		return kvledger.Open(filepath.Join(cfg.DataDir, "badger"), log)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return storage.NewDB(filepath.Join(cfg.DataDir, "keyledger.db"))
	}
}
