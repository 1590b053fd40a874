package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"framevault/internal/api"
	"framevault/internal/config"
	"framevault/internal/generate"
	"framevault/internal/ledger"
	"framevault/internal/reconcile"
	"framevault/internal/render"
	"framevault/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the render job server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// core is the wired generation pipeline shared by serve and sync.
type core struct {
	cfg    config.Config
	store  storage.Store
	ledger ledger.Client
	driver *generate.Driver
	engine *reconcile.Engine
	lock   *flock.Flock
}

func (c *core) close() {
	if err := c.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: releasing lock: %v\n", err)
		}
	}
}

// buildCore loads and validates config, takes the instance lock, and wires
// storage, ledger, renderer, driver, and reconciliation engine. Startup
// misconfiguration fails here, before any request or pass begins.
func buildCore() (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging(cfg)
	return buildCoreFromConfig(cfg)
}

func buildCoreFromConfig(cfg config.Config) (*core, error) {
	var lock *flock.Flock
	if cfg.Storage.Backend != "memory" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		lock = flock.New(filepath.Join(cfg.Storage.DataDir, "framevault.lock"))
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring instance lock: %w", err)
		}
		if !ok {
			return nil, errors.New("another framevault process is using this data directory")
		}
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.LedgerTimeout())
	renderer := render.WithTimeout(render.NewHTTPRenderer(cfg.Renderer.BaseURL), cfg.RenderTimeout())

	driver := generate.NewDriver(renderer, store, generate.Options{
		MaxBatch: cfg.Jobs.MaxBatch,
		// Episode deadline covers the render plus persistence.
		Timeout:     cfg.RenderTimeout() + 30*time.Second,
		Concurrency: int64(cfg.Renderer.Concurrency),
	})
	engine := reconcile.New(ledgerClient, store, driver, slog.Default())

	return &core{
		cfg:    cfg,
		store:  store,
		ledger: ledgerClient,
		driver: driver,
		engine: engine,
		lock:   lock,
	}, nil
}

func setupLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "framevault version %s\n", version)

	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(api.Deps{
		Driver:         c.driver,
		Store:          c.store,
		Ledger:         c.ledger,
		Token:          c.cfg.Server.APIToken,
		RequestTimeout: c.cfg.RequestTimeout(),
		Logger:         slog.Default(),
	})

	srv := &http.Server{
		Addr:    c.cfg.Server.Bind,
		Handler: handler,
	}

	// Background reconciliation, if enabled.
	if interval := c.cfg.SyncInterval(); interval > 0 {
		worker := reconcile.NewWorker(c.engine, interval)
		go worker.Run(ctx)
		slog.Info("reconciliation worker started", "interval", interval)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("framevault listening", "addr", c.cfg.Server.Bind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown: stop accepting requests, let in-flight handlers
	// drain, then cancel any detached generation episodes so renderer
	// sessions are released before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := c.driver.Close(shutdownCtx); err != nil {
		slog.Warn("generation pipeline did not drain cleanly", "error", err)
	}
	return nil
}
