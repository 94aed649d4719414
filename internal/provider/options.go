package provider

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/persistence"
	"github.com/iudanet/gophsync/internal/storage"
)

const (
	// DefaultSyncFallback через сколько после подписки документ считается синхронизированным без ответов
	DefaultSyncFallback = 500 * time.Millisecond
	// DefaultSyncTimeout абсолютный срок синхронизации от вызова Connect
	DefaultSyncTimeout = 3 * time.Second

	outboundBuffer = 1024
	publishTimeout = 5 * time.Second
)

type config struct {
	snapshots    storage.SnapshotStore
	logger       *slog.Logger
	user         *models.User
	debounce     time.Duration
	syncFallback time.Duration
	syncTimeout  time.Duration
	saveTimeout  time.Duration
	resubscribe  func() backoff.BackOff
}

func defaultConfig() config {
	return config{
		debounce:     persistence.DefaultDelay,
		syncFallback: DefaultSyncFallback,
		syncTimeout:  DefaultSyncTimeout,
		saveTimeout:  persistence.DefaultSaveTimeout,
		resubscribe:  defaultResubscribeBackOff,
	}
}

func defaultResubscribeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Option настройка Provider
type Option func(*config)

// WithLogger задает логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithSnapshotStore включает восстановление и сохранение snapshot документа.
func WithSnapshotStore(store storage.SnapshotStore) Option {
	return func(c *config) {
		c.snapshots = store
	}
}

// WithUser задает пользователя, которого видят другие участники.
func WithUser(user models.User) Option {
	return func(c *config) {
		c.user = &user
	}
}

// WithDebounce задает паузу перед сохранением snapshot.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		c.debounce = d
	}
}

// WithSyncFallback задает задержку после подписки, после которой документ считается синхронизированным.
func WithSyncFallback(d time.Duration) Option {
	return func(c *config) {
		c.syncFallback = d
	}
}

// WithSyncTimeout задает абсолютный срок синхронизации от вызова Connect.
func WithSyncTimeout(d time.Duration) Option {
	return func(c *config) {
		c.syncTimeout = d
	}
}

// WithSaveTimeout ограничивает время одного сохранения snapshot.
func WithSaveTimeout(d time.Duration) Option {
	return func(c *config) {
		c.saveTimeout = d
	}
}

// WithResubscribeBackOff задает паузы между повторными попытками подписки,
// если Subscribe при подключении вернул ошибку. backoff.Stop прекращает попытки.
func WithResubscribeBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *config) {
		c.resubscribe = newBackOff
	}
}
