// relayer keeps a live connection to the sale gateway and mirrors observed
// sale state into every configured downstream target.
// Usage: go run ./cmd/relayer --config configs/relayer.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/dkovar/sale-relay/internal/config"
	"github.com/dkovar/sale-relay/internal/connection"
	"github.com/dkovar/sale-relay/internal/database"
	"github.com/dkovar/sale-relay/internal/journal"
	"github.com/dkovar/sale-relay/internal/reconciler"
	"github.com/dkovar/sale-relay/internal/relay"
	"github.com/dkovar/sale-relay/internal/router"
	"github.com/dkovar/sale-relay/internal/source"
	"github.com/dkovar/sale-relay/internal/target"
	"github.com/dkovar/sale-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relayer.local.yaml", "path to config file")
	watch := flag.Bool("watch-config", true, "reload config file on change (log level only)")
	flag.Parse()

	// Set up structured logging; level adjustable via config reload.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relayer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.LogLevel))

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"source_ws", cfg.Source.WSURL,
		"targets", len(cfg.Targets),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Journal database (optional)
	var pool *pgxpool.Pool
	var jw *journal.Writer
	var rec relay.Recorder
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Database.Host,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		jw = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		rec = jw
	}

	// Authoritative source client
	src := source.NewClient(
		cfg.Source.RestURL,
		cfg.Source.APIKey,
		source.WithLogger(logger),
		source.WithTimeout(cfg.Source.Timeout),
		source.WithRetries(cfg.Source.MaxRetries, time.Second),
	)

	// Downstream targets
	targets := make([]target.Target, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		targets = append(targets, target.NewHTTP(target.Config{
			Name:    tc.Name,
			URL:     tc.URL,
			APIKey:  tc.APIKey,
			Timeout: tc.Timeout,
		}, logger))
	}

	// Orchestrator
	retries := cfg.Sync.RetryAttempts
	if retries < 0 {
		retries = 0
	}
	orch := relay.New(relay.Config{
		RetryAttempts: retries,
		RetryBackoff:  cfg.Sync.RetryBackoff,
		CallTimeout:   cfg.Sync.CallTimeout,
		EventBuffer:   cfg.Sync.EventBuffer,
	}, targets, rec, logger)

	// Connection manager + router
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:               cfg.Source.WSURL,
		APIKey:            cfg.Source.APIKey,
		PingInterval:      cfg.Connection.PingInterval,
		PongTimeout:       cfg.Connection.PongTimeout,
		ReconnectBase:     cfg.Connection.ReconnectBaseDelay,
		MaxReconnects:     cfg.Connection.MaxReconnectAttempts,
		SeverAfter:        cfg.Connection.SeverAfter,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		MessageBufferSize: cfg.Connection.MessageBufferSize,
	}, connection.Callbacks{}, logger)

	rtr := router.NewRouter(router.RouterConfig{
		EventBufferSize: cfg.Sync.EventBuffer,
	}, mgr.Messages(), logger)

	// Startup sequence: fetch the authoritative snapshot, force an initial
	// sync everywhere, then begin live relay.
	if jw != nil {
		if err := jw.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			os.Exit(1)
		}
	}
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	logger.Info("fetching authoritative sale state")
	st, err := src.GetSaleState(ctx)
	if err != nil {
		logger.Error("failed to fetch sale state", "error", err)
		os.Exit(1)
	}
	logger.Info("sale state fetched",
		"window_start", st.Window.StartsAt,
		"window_end", st.Window.EndsAt,
		"balance", st.Balance,
	)
	orch.Bootstrap(st)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	var recon *reconciler.Reconciler
	if !cfg.Reconcile.Disabled {
		recon = reconciler.New(reconciler.Config{
			Interval: cfg.Reconcile.Interval,
			Timeout:  cfg.Reconcile.Timeout,
		}, src, orch, logger)
		if err := recon.Start(ctx); err != nil {
			logger.Error("failed to start reconciler", "error", err)
			os.Exit(1)
		}
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: healthHandler(cfg.Health.Path, mgr, orch, rtr, pool),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Pump decoded events into the orchestrator.
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-rtr.Events():
				if !ok {
					return nil
				}
				orch.Enqueue(ev)
			}
		}
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-mgr.Done():
			if err := mgr.Err(); err != nil {
				// Reconnect cap exhausted: inert and clearly signaled.
				logger.Error("connection permanently lost", "error", err)
				return err
			}
			return nil
		}
	})

	if *watch {
		watcher := config.NewWatcher(*configPath, logger)
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case next := <-watcher.Updates():
					level.Set(parseLevel(next.LogLevel))
					logger.Info("applied reloaded config", "log_level", next.LogLevel)
				}
			}
		})
	}

	logger.Info("relayer running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	err = g.Wait()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if recon != nil {
		recon.Stop(shutdownCtx)
	}
	mgr.Stop()
	rtr.Stop(shutdownCtx)
	orch.Stop(shutdownCtx)
	if jw != nil {
		jw.Stop(shutdownCtx)
	}

	if err != nil {
		logger.Error("relayer terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("relayer stopped")
}

// parseLevel maps a config string to a slog level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// healthHandler exposes liveness plus component stats.
func healthHandler(path string, mgr *connection.Manager, orch *relay.Orchestrator, rtr *router.Router, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		stats := mgr.Stats()
		health.Components["connection"] = map[string]any{
			"connected": stats.Connected,
			"session":   stats.SessionID.String(),
			"attempts":  stats.Attempts,
		}
		if !stats.Connected {
			health.Status = "degraded"
		}
		select {
		case <-mgr.Done():
			if mgr.Err() != nil {
				health.Status = "unhealthy"
				health.Components["connection"] = map[string]any{
					"connected": false,
					"error":     mgr.Err().Error(),
				}
			}
		default:
		}

		health.Components["relay"] = orch.Stats()
		health.Components["router"] = rtr.Stats()

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
