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

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/channel/redis"
	"github.com/iudanet/gophsync/internal/channel/websocket"
	"github.com/iudanet/gophsync/internal/collab"
	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/iocli"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/provider"
	"github.com/iudanet/gophsync/internal/replica"
	"github.com/iudanet/gophsync/internal/storage/encrypted"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.LoadCollab(os.Args[1:])
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

	// лог в stderr, чтобы не смешиваться с документом в stdout
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(cfg, iocli.NewStdio(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Collab, console *iocli.Stdio, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []provider.Option{
		provider.WithLogger(logger),
		provider.WithUser(models.User{ID: uuid.NewString(), Name: cfg.Name, Color: cfg.Color}),
		provider.WithDebounce(cfg.Debounce),
		provider.WithSyncFallback(cfg.SyncFallback),
		provider.WithSyncTimeout(cfg.SyncTimeout),
		provider.WithSaveTimeout(cfg.SaveTimeout),
	}

	if cfg.StoreDSN != "" {
		st, err := openStore(ctx, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("failed to close snapshot store", "error", err)
			}
		}()

		snapshots := provider.WithSnapshotStore(st)
		if cfg.Encrypt {
			if cfg.Passphrase == "" && cfg.PassphraseFile == "" && !console.IsTerminal() {
				return fmt.Errorf("-encrypt needs GOPHSYNC_PASSPHRASE or -passphrase-file when stdin is not a terminal")
			}
			passphrase, err := collab.ReadPassphrase(console, collab.Passphrases{
				FromEnv:  cfg.Passphrase,
				FromFile: cfg.PassphraseFile,
			})
			if err != nil {
				return err
			}
			key, err := crypto.DeriveDocumentKey(passphrase, cfg.DocumentID)
			if err != nil {
				return fmt.Errorf("failed to derive snapshot key: %w", err)
			}
			sealed, err := encrypted.New(st, key)
			if err != nil {
				return fmt.Errorf("failed to create encrypted store: %w", err)
			}
			snapshots = provider.WithSnapshotStore(sealed)
		}
		opts = append(opts, snapshots)
	}

	ch, closeChannel, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}
	defer closeChannel()

	p := provider.New(replica.NewStore(), cfg.DocumentID, ch, opts...)
	// Destroy сохраняет несохраненные правки и рассылает уход из документа
	defer p.Destroy()

	session := collab.NewSession(p, console, logger)
	unwatch := session.Watch()
	defer unwatch()

	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	console.Printf("Editing %q as %s. Type :help for commands.\n", cfg.DocumentID, cfg.Name)
	return session.Run(ctx)
}

func newChannel(cfg *config.Collab, logger *slog.Logger) (channel.Channel, func(), error) {
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}
		return redis.New(client, redis.WithLogger(logger)), closeFn, nil
	}

	ch, err := websocket.New(cfg.RelayURL, websocket.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return ch, func() {}, nil
}

func printUsage() {
	fmt.Println("gophsync collab")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  collab -doc ID [OPTIONS]")
	fmt.Println()
	fmt.Println("Options (environment variable in brackets):")
	fmt.Println("  -doc ID                   Document id (GOPHSYNC_DOCUMENT)")
	fmt.Println("  -relay URL                Relay URL (GOPHSYNC_RELAY_URL, default http://localhost:8080)")
	fmt.Println("  -redis ADDR               Use redis directly instead of the relay (GOPHSYNC_REDIS_ADDR)")
	fmt.Println("  -name NAME                Display name (GOPHSYNC_NAME, default $USER)")
	fmt.Println("  -color COLOR              Presence color (GOPHSYNC_COLOR)")
	fmt.Println("  -store DSN                Snapshot store (GOPHSYNC_STORE):")
	fmt.Println("                              bolt://path, sqlite://path, postgres://..., mongodb://host/db")
	fmt.Println("  -encrypt                  Encrypt snapshots (GOPHSYNC_ENCRYPT)")
	fmt.Println("  -passphrase-file PATH     File with the snapshot passphrase (GOPHSYNC_PASSPHRASE_FILE)")
	fmt.Println("  -debounce DURATION        Delay before saving (GOPHSYNC_DEBOUNCE, default 2s)")
	fmt.Println("  -sync-fallback DURATION   Solo session detection (GOPHSYNC_SYNC_FALLBACK, default 500ms)")
	fmt.Println("  -sync-timeout DURATION    Initial sync bound (GOPHSYNC_SYNC_TIMEOUT, default 3s)")
	fmt.Println("  -log-level LEVEL          debug, info, warn, error (GOPHSYNC_LOG_LEVEL, default warn)")
	fmt.Println("  -env-file PATH            Optional .env file (GOPHSYNC_ENV_FILE, default .env)")
	fmt.Println("  -version                  Show version information")
	fmt.Println()
	fmt.Println("Passphrase Priority (highest to lowest):")
	fmt.Println("  1. GOPHSYNC_PASSPHRASE environment variable")
	fmt.Println("  2. -passphrase-file")
	fmt.Println("  3. Interactive prompt")
	fmt.Println()
	collab.PrintCommands(iocli.New(os.Stdin, os.Stdout))
}

func printVersion() {
	fmt.Printf("gophsync collab\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
