// Package config загружает настройки бинарников relay и collab.
//
// Приоритет источников: флаги командной строки, переменные окружения GOPHSYNC_*,
// файл .env (переменные из файла не перекрывают уже заданные в окружении).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iudanet/gophsync/internal/validation"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "GOPHSYNC_"

// Backend канал, через который relay рассылает сообщения
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Relay настройки cmd/relay
type Relay struct {
	Addr            string
	Backend         string
	RedisAddr       string
	LogLevel        slog.Level
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateWindow      time.Duration
	RateLimit       int
	ShowVersion     bool
}

// Collab настройки cmd/collab
type Collab struct {
	RelayURL       string
	RedisAddr      string
	DocumentID     string
	Name           string
	Color          string
	StoreDSN       string
	Passphrase     string
	PassphraseFile string
	LogLevel       slog.Level
	Debounce       time.Duration
	SyncFallback   time.Duration
	SyncTimeout    time.Duration
	SaveTimeout    time.Duration
	Encrypt        bool
	ShowVersion    bool
}

// LoadRelay разбирает args (без имени программы) с учетом окружения и .env.
func LoadRelay(args []string) (*Relay, error) {
	if err := loadDotEnv(envFile(args)); err != nil {
		return nil, err
	}

	cfg := &Relay{}
	env := &envReader{}
	flags := flag.NewFlagSet("relay", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.String("env-file", ".env", "Path to .env file")
	flags.StringVar(&cfg.Addr, "addr", env.String("ADDR", ":8080"), "Listen address")
	flags.StringVar(&cfg.Backend, "backend", env.String("BACKEND", BackendMemory), "Broadcast backend: memory or redis")
	flags.StringVar(&cfg.RedisAddr, "redis", env.String("REDIS_ADDR", "localhost:6379"), "Redis address for the redis backend")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", env.Duration("READ_TIMEOUT", 15*time.Second), "HTTP read timeout")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", env.Duration("WRITE_TIMEOUT", 15*time.Second), "HTTP write timeout")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown timeout")
	flags.IntVar(&cfg.RateLimit, "rate-limit", env.Int("RATE_LIMIT", 60), "Websocket connections per IP per window, 0 disables")
	flags.DurationVar(&cfg.RateWindow, "rate-window", env.Duration("RATE_WINDOW", time.Minute), "Rate limit window")
	flags.TextVar(&cfg.LogLevel, "log-level", env.Level("LOG_LEVEL", slog.LevelInfo), "Log level: debug, info, warn, error")
	flags.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := env.Err(); err != nil {
		return nil, err
	}
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Relay) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	return nil
}

// LoadCollab разбирает args (без имени программы) с учетом окружения и .env.
func LoadCollab(args []string) (*Collab, error) {
	if err := loadDotEnv(envFile(args)); err != nil {
		return nil, err
	}

	cfg := &Collab{}
	env := &envReader{}
	flags := flag.NewFlagSet("collab", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.String("env-file", ".env", "Path to .env file")
	flags.StringVar(&cfg.RelayURL, "relay", env.String("RELAY_URL", "http://localhost:8080"), "Relay URL")
	flags.StringVar(&cfg.RedisAddr, "redis", env.String("REDIS_ADDR", ""), "Connect through redis directly instead of the relay")
	flags.StringVar(&cfg.DocumentID, "doc", env.String("DOCUMENT", ""), "Document id")
	flags.StringVar(&cfg.Name, "name", env.String("NAME", defaultName()), "Display name")
	flags.StringVar(&cfg.Color, "color", env.String("COLOR", "#3b82f6"), "Presence color")
	flags.StringVar(&cfg.StoreDSN, "store", env.String("STORE", ""), "Snapshot store DSN: bolt://path, sqlite://path, postgres://..., mongodb://...")
	flags.BoolVar(&cfg.Encrypt, "encrypt", env.Bool("ENCRYPT", false), "Encrypt snapshots with a passphrase")
	flags.StringVar(&cfg.PassphraseFile, "passphrase-file", env.String("PASSPHRASE_FILE", ""), "Path to file containing the snapshot passphrase")
	flags.DurationVar(&cfg.Debounce, "debounce", env.Duration("DEBOUNCE", 2*time.Second), "Delay before saving a snapshot")
	flags.DurationVar(&cfg.SyncFallback, "sync-fallback", env.Duration("SYNC_FALLBACK", 500*time.Millisecond), "Wait for peers before assuming a solo session")
	flags.DurationVar(&cfg.SyncTimeout, "sync-timeout", env.Duration("SYNC_TIMEOUT", 3*time.Second), "Upper bound for the initial sync")
	flags.DurationVar(&cfg.SaveTimeout, "save-timeout", env.Duration("SAVE_TIMEOUT", 10*time.Second), "Upper bound for a single snapshot save")
	flags.TextVar(&cfg.LogLevel, "log-level", env.Level("LOG_LEVEL", slog.LevelWarn), "Log level: debug, info, warn, error")
	flags.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	// пароль из флага не поддерживается, только окружение, файл или prompt
	cfg.Passphrase = env.String("PASSPHRASE", "")

	if err := env.Err(); err != nil {
		return nil, err
	}
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Collab) validate() error {
	if err := validation.ValidateDocumentID(c.DocumentID); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	if c.RedisAddr == "" && c.RelayURL == "" {
		return fmt.Errorf("either relay url or redis address is required")
	}
	if c.Encrypt && c.StoreDSN == "" {
		return fmt.Errorf("-encrypt requires a snapshot store")
	}
	if c.Debounce <= 0 || c.SyncFallback <= 0 || c.SyncTimeout <= 0 || c.SaveTimeout <= 0 {
		return fmt.Errorf("debounce, sync and save timeouts must be positive")
	}
	return nil
}

// loadDotEnv загружает переменные из файла. Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// envFile ищет -env-file до основного разбора: значения из файла нужны как умолчания флагов.
func envFile(args []string) string {
	path := os.Getenv(EnvPrefix + "ENV_FILE")
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(strings.TrimLeft(args[i], "-"), "=")
		if !strings.HasPrefix(args[i], "-") || name != "env-file" {
			continue
		}
		if !hasValue && i+1 < len(args) {
			value = args[i+1]
		}
		path = value
	}
	if path == "" {
		return ".env"
	}
	return path
}

func defaultName() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anonymous"
}

// envReader читает GOPHSYNC_* переменные и запоминает первую ошибку разбора
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
}

func (r *envReader) Err() error {
	return r.err
}

func (r *envReader) String(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *envReader) Int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) Bool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *envReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *envReader) Level(key string, def slog.Level) *slog.Level {
	level := def
	v, ok := r.lookup(key)
	if !ok {
		return &level
	}
	if err := level.UnmarshalText([]byte(v)); err != nil {
		r.fail(key, err)
		level = def
	}
	return &level
}
