package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/channel/memory"
	"github.com/iudanet/gophsync/internal/channel/redis"
	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/relay"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		printUsage()
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage()
		os.Exit(2)
	}

	// Show version and exit if requested
	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Relay, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	srv := relay.New(relay.Config{
		Addr:            cfg.Addr,
		Version:         Version,
		Backend:         cfg.Backend,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RateLimit:       cfg.RateLimit,
		RateWindow:      cfg.RateWindow,
	}, backend, logger)

	return srv.Run(ctx)
}

// newBackend создает канал рассылки. Redis позволяет запускать несколько relay за балансировщиком.
func newBackend(ctx context.Context, cfg *config.Relay, logger *slog.Logger) (channel.Channel, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)

		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}
		return redis.New(client, redis.WithLogger(logger)), closeFn, nil
	default:
		return memory.NewHub(memory.WithLogger(logger)), func() {}, nil
	}
}

func printUsage() {
	fmt.Println("gophsync relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  relay [OPTIONS]")
	fmt.Println()
	fmt.Println("Options (environment variable in brackets):")
	fmt.Println("  -addr ADDR                Listen address (GOPHSYNC_ADDR, default :8080)")
	fmt.Println("  -backend NAME             memory or redis (GOPHSYNC_BACKEND, default memory)")
	fmt.Println("  -redis ADDR               Redis address (GOPHSYNC_REDIS_ADDR, default localhost:6379)")
	fmt.Println("  -read-timeout DURATION    HTTP read timeout (GOPHSYNC_READ_TIMEOUT, default 15s)")
	fmt.Println("  -write-timeout DURATION   HTTP write timeout (GOPHSYNC_WRITE_TIMEOUT, default 15s)")
	fmt.Println("  -shutdown-timeout DURATION  Graceful shutdown timeout (GOPHSYNC_SHUTDOWN_TIMEOUT, default 10s)")
	fmt.Println("  -rate-limit N             Websocket connections per IP per window, 0 disables (GOPHSYNC_RATE_LIMIT, default 60)")
	fmt.Println("  -rate-window DURATION     Rate limit window (GOPHSYNC_RATE_WINDOW, default 1m)")
	fmt.Println("  -log-level LEVEL          debug, info, warn, error (GOPHSYNC_LOG_LEVEL, default info)")
	fmt.Println("  -env-file PATH            Optional .env file (GOPHSYNC_ENV_FILE, default .env)")
	fmt.Println("  -version                  Show version information")
}

func printVersion() {
	fmt.Printf("gophsync relay\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
