package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvasquez/tradelink/internal/config"
	"github.com/mvasquez/tradelink/internal/connection"
	"github.com/mvasquez/tradelink/internal/database"
	"github.com/mvasquez/tradelink/internal/journal"
	"github.com/mvasquez/tradelink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/linkcheck.yaml", "path to config file")
	stream := flag.Bool("stream", false, "open a stream session once connected")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting linkcheck",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"base_url", cfg.Server.BaseURL,
		"transports", cfg.Transports.Order,
	)

	// Create context with cancellation
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

	tokens := &envTokens{envVar: cfg.Server.TokenEnv}
	if !tokens.IsAuthenticated() {
		logger.Warn("no bearer token in environment", "env_var", cfg.Server.TokenEnv)
	}

	mgr := connection.NewManager(cfg.ManagerConfig(tokens), logger)
	defer mgr.Dispose()

	g, gctx := errgroup.WithContext(ctx)

	// Events either feed the journal or get logged; one consumer owns
	// the stream.
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")

		jw := journal.New(
			journal.Config{
				BatchSize:     cfg.Journal.BatchSize,
				FlushInterval: cfg.Journal.FlushInterval,
			},
			cfg.Instance.ID,
			mgr.Events(),
			pool,
			logger,
		)
		if err := jw.Start(ctx); err != nil {
			logger.Error("failed to start event journal", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			jw.Stop(stopCtx)
		}()
	} else {
		g.Go(func() error {
			return logEvents(gctx, mgr, logger)
		})
	}

	// Periodic health snapshot
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := mgr.Stats()
				logger.Info("link stats",
					"status", s.Status,
					"resilience", s.Resilience,
					"circuit", s.Circuit,
					"quality", s.Quality,
					"transport", s.ActiveTransport,
					"pending", s.PendingRequests,
					"reconnects", s.Reconnects,
				)
			}
		}
	})

	mgr.SetAuthState(tokens.IsAuthenticated(), false)
	connected, streaming := true, *stream
	if err := mgr.SetDesiredState(connection.DesiredUpdate{
		Connected:       &connected,
		StreamingActive: &streaming,
	}); err != nil {
		logger.Error("failed to set desired state", "error", err)
		os.Exit(1)
	}

	logger.Info("linkcheck running", "instance_id", cfg.Instance.ID)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Dispose()
	if err := g.Wait(); err != nil {
		logger.Error("worker error", "error", err)
	}
	logger.Info("linkcheck stopped")
}

// logEvents prints the manager's event stream until it closes.
func logEvents(ctx context.Context, mgr *connection.Manager, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-mgr.Events():
			if !ok {
				return nil
			}
			attrs := []any{
				"kind", ev.Kind,
				"status", ev.Status,
			}
			if ev.Detail != "" {
				attrs = append(attrs, "detail", ev.Detail)
			}
			if ev.Err != nil {
				attrs = append(attrs, "error", ev.Err)
			}
			logger.Info("connection event", attrs...)
		}
	}
}

// envTokens reads the bearer token from the environment on every call so
// external rotation is picked up without a restart.
type envTokens struct {
	envVar string
}

func (e *envTokens) AccessToken() string {
	return os.Getenv(e.envVar)
}

func (e *envTokens) IsAuthenticated() bool {
	return e.AccessToken() != ""
}
