// streamtest connects to the sale gateway WebSocket and streams decoded
// events to the console. No downstream targets are touched; use it to
// verify the gateway feed and the reconnection behavior.
// Usage: go run ./cmd/streamtest --config configs/relayer.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkovar/sale-relay/internal/config"
	"github.com/dkovar/sale-relay/internal/connection"
	"github.com/dkovar/sale-relay/internal/model"
	"github.com/dkovar/sale-relay/internal/router"
	"github.com/dkovar/sale-relay/internal/source"
)

func main() {
	configPath := flag.String("config", "configs/relayer.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Fetch the authoritative snapshot first so the streamed deltas have
	// a baseline to compare against.
	src := source.NewClient(cfg.Source.RestURL, cfg.Source.APIKey, source.WithLogger(logger))
	st, err := src.GetSaleState(ctx)
	if err != nil {
		logger.Error("failed to fetch sale state", "error", err)
		os.Exit(1)
	}
	fmt.Printf("authoritative state: window=[%d, %d] balance=%s\n",
		st.Window.StartsAt, st.Window.EndsAt, st.Balance)

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.Source.WSURL
	connCfg.APIKey = cfg.Source.APIKey
	if cfg.Connection.PingInterval > 0 {
		connCfg.PingInterval = cfg.Connection.PingInterval
	}
	if cfg.Connection.PongTimeout > 0 {
		connCfg.PongTimeout = cfg.Connection.PongTimeout
	}
	connCfg.SeverAfter = cfg.Connection.SeverAfter

	mgr := connection.NewManager(connCfg, connection.Callbacks{
		OnOpen: func(info connection.SessionInfo) {
			fmt.Printf("--- session open: %s ---\n", info.ID)
		},
		OnClose: func(info connection.SessionInfo) {
			fmt.Printf("--- session closed: %s ---\n", info.ID)
		},
		OnPong: func(info connection.SessionInfo) {
			if *verbose {
				fmt.Printf("pong (%s)\n", info.ID)
			}
		},
	}, logger)

	rtr := router.NewRouter(router.DefaultRouterConfig(), mgr.Messages(), logger)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming events, Ctrl+C to stop")

	count := 0
	for {
		select {
		case <-ctx.Done():
			goto done
		case <-mgr.Done():
			if err := mgr.Err(); err != nil {
				logger.Error("connection permanently lost", "error", err)
			}
			goto done
		case ev, ok := <-rtr.Events():
			if !ok {
				goto done
			}
			count++
			printEvent(count, ev, *verbose)
		}
	}

done:
	mgr.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	rtr.Stop(stopCtx)

	stats := rtr.Stats()
	fmt.Printf("\nreceived=%d routed=%d parse_errors=%d unknown=%d\n",
		stats.MessagesReceived, stats.EventsRouted, stats.ParseErrors, stats.UnknownMessages)
}

func printEvent(n int, ev model.Event, verbose bool) {
	ts := ev.ReceivedAt.Format("15:04:05.000")
	switch ev.Type {
	case model.EventSaleWindowChanged:
		fmt.Printf("[%s] #%d window changed: [%d, %d]\n",
			ts, n, ev.Window.StartsAt, ev.Window.EndsAt)
	case model.EventBalanceChanged:
		fmt.Printf("[%s] #%d balance changed: %s\n", ts, n, ev.Balance)
	case model.EventPurchase:
		fmt.Printf("[%s] #%d purchase: buyer=%s amount=%d value=%s\n",
			ts, n, ev.Purchase.Buyer, ev.Purchase.Amount, ev.Purchase.Value)
	default:
		fmt.Printf("[%s] #%d %s\n", ts, n, ev.Type)
	}
	if verbose {
		if b, err := json.Marshal(ev); err == nil {
			fmt.Printf("         %s\n", b)
		}
	}
}
