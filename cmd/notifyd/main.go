package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exchange-notify/internal/auth"
	"github.com/rickgao/exchange-notify/internal/config"
	"github.com/rickgao/exchange-notify/internal/database"
	"github.com/rickgao/exchange-notify/internal/feed"
	"github.com/rickgao/exchange-notify/internal/logging"
	"github.com/rickgao/exchange-notify/internal/server"
	"github.com/rickgao/exchange-notify/internal/subscriptions"
	"github.com/rickgao/exchange-notify/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/notifyd.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Logging, cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting notifyd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("notifyd failed", "error", err)
		os.Exit(1)
	}

	logger.Info("notifyd stopped")
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := subscriptions.New(subscriptions.Options{
		PublicCapacity:  cfg.Channels.PublicCapacity,
		PaymentCapacity: cfg.Channels.PaymentCapacity,
		Logger:          logger.With("component", "registry"),
	})

	opts := server.Options{
		Logger: logger.With("component", "server"),
	}

	if cfg.Auth.PublicKeyPath != "" {
		publicKey, err := auth.LoadPublicKey(cfg.Auth.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("load auth public key: %w", err)
		}
		opts.Verifier = auth.NewVerifier(publicKey, cfg.Auth.MaxSkew)
		logger.Info("user assertions will be verified", "max_skew", cfg.Auth.MaxSkew)
	} else {
		logger.Warn("auth.public_key_path not set, trusting X-User-Id as-is")
	}

	var pool *pgxpool.Pool
	if cfg.Feed.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		var err error
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		opts.Database = pool
		logger.Info("database connected")
	}

	srv := server.New(serverConfig(cfg.Server), registry, opts)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           metricsHandler(cfg.Metrics.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if pool != nil {
		routerCfg := feed.RouterConfig{
			PublicChannel:    cfg.Feed.PublicChannel,
			PortfolioChannel: cfg.Feed.PortfolioChannel,
			PaymentChannel:   cfg.Feed.PaymentChannel,
		}
		listener := feed.NewListener(feed.ListenerConfig{
			Channels:           routerCfg.Channels(),
			ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
			BufferSize:         cfg.Feed.BufferSize,
		}, feed.PoolDialer(pool), logger.With("component", "feed_listener"))
		router := feed.NewRouter(routerCfg, listener.Notifications(), registry, logger.With("component", "feed_router"))

		g.Go(func() error {
			return runFeed(ctx, listener, router, cfg.Server.ShutdownTimeout)
		})
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("notifyd running",
		"listen_addr", cfg.Server.ListenAddr,
		"feed_enabled", cfg.Feed.Enabled,
		"public_capacity", cfg.Channels.PublicCapacity,
		"payment_capacity", cfg.Channels.PaymentCapacity,
	)

	return g.Wait()
}

// runFeed starts the listener and router and stops both once ctx is done.
func runFeed(ctx context.Context, listener feed.Listener, router feed.Router, timeout time.Duration) error {
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start feed listener: %w", err)
	}
	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("start feed router: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Listener first: Stop closes the notification channel.
	listenerErr := listener.Stop(stopCtx)
	routerErr := router.Stop(stopCtx)
	return errors.Join(listenerErr, routerErr)
}

func serverConfig(c config.HTTPConfig) server.Config {
	return server.Config{
		ListenAddr:      c.ListenAddr,
		ShutdownTimeout: c.ShutdownTimeout,
		WriteTimeout:    c.WriteTimeout,
		PingInterval:    c.PingInterval,
		PongTimeout:     c.PongTimeout,
		ReadLimit:       c.ReadLimit,
		SendBufferSize:  c.SendBufferSize,
	}
}

func metricsHandler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return mux
}
