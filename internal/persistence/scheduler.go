// Package persistence сохраняет состояние документа в хранилище с debounce.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/storage"
)

const (
	// DefaultDelay пауза после последней правки перед сохранением
	DefaultDelay = 2 * time.Second
	// DefaultSaveTimeout ограничение на одну запись в хранилище
	DefaultSaveTimeout = 10 * time.Second
)

// Source источник полного состояния документа.
type Source interface {
	DocumentID() string
	EncodeFull() []byte
}

// Stats счетчики сохранений.
type Stats struct {
	LastSaved time.Time
	LastError error
	Saves     int
	Failures  int
}

// Scheduler откладывает сохранение до паузы в правках.
// Каждый Schedule перезапускает таймер, поэтому серия правок дает одну запись.
// Ошибка записи не повторяется автоматически: документ остается dirty до следующей правки или Flush.
type Scheduler struct {
	source      Source
	store       storage.SnapshotStore
	logger      *slog.Logger
	onSaved     func(error)
	timer       *time.Timer
	stats       Stats
	delay       time.Duration
	saveTimeout time.Duration
	gen         uint64 // поколение таймера: сработавший устаревший таймер ничего не делает
	mu          sync.Mutex
	saveMu      sync.Mutex // сериализует записи
	dirty       bool
	stopped     bool
}

// Option настройка Scheduler
type Option func(*Scheduler)

// WithDelay задает паузу debounce.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.delay = d
	}
}

// WithSaveTimeout задает таймаут одной записи по таймеру.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.saveTimeout = d
	}
}

// OnSaved регистрирует callback, вызываемый после каждой попытки записи по таймеру.
func OnSaved(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onSaved = fn
	}
}

// NewScheduler создает планировщик сохранений source в store.
func NewScheduler(source Source, store storage.SnapshotStore, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:      source,
		store:       store,
		logger:      logger,
		delay:       DefaultDelay,
		saveTimeout: DefaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule отмечает документ измененным и перезапускает таймер.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.dirty = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}

	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	err := s.save(ctx)
	if s.onSaved != nil {
		s.onSaved(err)
	}
}

// Flush отменяет таймер и сразу сохраняет документ, если есть несохраненные правки.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.save(ctx)
}

// Stop отменяет таймер без сохранения. После Stop вызовы Schedule игнорируются.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending проверяет, есть ли несохраненные правки.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// Stats возвращает копию счетчиков.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

func (s *Scheduler) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	// правки во время записи снова выставят dirty
	s.dirty = false
	s.mu.Unlock()

	documentID := s.source.DocumentID()
	data := s.source.EncodeFull()

	start := time.Now()
	err := s.store.SaveSnapshot(ctx, documentID, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.dirty = true
		s.stats.Failures++
		s.stats.LastError = err
		s.logger.Warn("failed to save snapshot",
			"document_id", documentID,
			"error", err,
		)
		return fmt.Errorf("failed to save snapshot %s: %w", documentID, err)
	}

	s.stats.Saves++
	s.stats.LastSaved = time.Now()
	s.stats.LastError = nil
	s.logger.Debug("snapshot saved",
		"document_id", documentID,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return nil
}

// Restore загружает сохраненное состояние и передает его в apply.
// Отсутствие snapshot не является ошибкой.
func Restore(ctx context.Context, store storage.SnapshotStore, documentID string, apply func([]byte) error) (bool, error) {
	data, err := store.LoadSnapshot(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load snapshot %s: %w", documentID, err)
	}

	if err := apply(data); err != nil {
		return false, fmt.Errorf("failed to apply snapshot %s: %w", documentID, err)
	}
	return true, nil
}
