// Package memory реализует канал внутри процесса. Используется в тестах и в relay без Redis.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iudanet/gophsync/internal/channel"
)

// DefaultBuffer размер очереди входящих сообщений подписки
const DefaultBuffer = 256

// Hub in-process pub/sub.
// По умолчанию сообщение доставляется и самому отправителю, как в большинстве брокеров.
type Hub struct {
	topics    map[string]map[*subscription]struct{}
	failing   map[string]error
	logger    *slog.Logger
	published atomic.Int64
	dropped   atomic.Int64
	buffer    int
	mu        sync.RWMutex
	duplicate bool
	noEcho    bool
}

// Option настройка Hub
type Option func(*Hub)

// WithBuffer задает размер очереди подписки. Переполненная подписка теряет сообщения.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		h.buffer = n
	}
}

// WithDuplicates доставляет каждое сообщение дважды.
func WithDuplicates() Option {
	return func(h *Hub) {
		h.duplicate = true
	}
}

// WithoutEcho не доставляет сообщение отправителю.
func WithoutEcho() Option {
	return func(h *Hub) {
		h.noEcho = true
	}
}

// WithLogger задает логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub создает пустой hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:  make(map[string]map[*subscription]struct{}),
		failing: make(map[string]error),
		logger:  slog.Default(),
		buffer:  DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe подписывается на тему. Если тема в состоянии отказа, первым событием будет StateErrored.
func (h *Hub) Subscribe(ctx context.Context, topic string) (channel.Subscription, error) {
	sub := &subscription{
		hub:      h,
		topic:    topic,
		messages: make(chan []byte, h.buffer),
		events:   make(chan channel.Event, 16),
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	failure := h.failing[topic]
	h.mu.Unlock()

	if failure != nil {
		sub.emit(channel.Event{State: channel.StateErrored, Err: failure})
	} else {
		sub.emit(channel.Event{State: channel.StateSubscribed})
	}

	return sub, nil
}

// Inject доставляет payload всем подписчикам темы, как будто его опубликовал внешний клиент.
func (h *Hub) Inject(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.fanOut(topic, nil, payload)
}

// Fail переводит тему в состояние отказа: подписчики получают StateErrored, публикация возвращает err.
func (h *Hub) Fail(topic string, err error) {
	h.mu.Lock()
	h.failing[topic] = err
	subs := h.snapshot(topic)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.emit(channel.Event{State: channel.StateErrored, Err: err})
	}
}

// Recover снимает отказ темы: подписчики получают StateSubscribed.
func (h *Hub) Recover(topic string) {
	h.mu.Lock()
	delete(h.failing, topic)
	subs := h.snapshot(topic)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.emit(channel.Event{State: channel.StateSubscribed})
	}
}

// CloseTopic закрывает все подписки темы, как при закрытии соединения сервером.
func (h *Hub) CloseTopic(topic string) {
	h.mu.Lock()
	subs := h.snapshot(topic)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscribers возвращает количество подписчиков темы.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.topics[topic])
}

// Published возвращает количество успешно опубликованных сообщений.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Dropped возвращает количество сообщений, потерянных из-за переполнения очереди.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// snapshot копирует подписчиков темы. Вызывается под h.mu.
func (h *Hub) snapshot(topic string) []*subscription {
	subs := make([]*subscription, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) publish(from *subscription, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := h.failing[from.topic]; err != nil {
		return fmt.Errorf("failed to publish to %s: %w", from.topic, err)
	}

	h.fanOut(from.topic, from, payload)
	return nil
}

// fanOut рассылает payload подписчикам темы. Вызывается под h.mu.
func (h *Hub) fanOut(topic string, from *subscription, payload []byte) {
	h.published.Add(1)

	copies := 1
	if h.duplicate {
		copies = 2
	}

	for sub := range h.topics[topic] {
		if sub == from && h.noEcho {
			continue
		}
		for range copies {
			if !sub.deliver(bytes.Clone(payload)) {
				h.dropped.Add(1)
				h.logger.Warn("subscriber queue is full, message dropped", "topic", topic)
			}
		}
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[sub.topic]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

type subscription struct {
	hub      *Hub
	messages chan []byte
	events   chan channel.Event
	topic    string
	mu       sync.Mutex
	closed   bool
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

func (s *subscription) Events() <-chan channel.Event {
	return s.events
}

func (s *subscription) Publish(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return channel.ErrClosed
	}
	return s.hub.publish(s, payload)
}

// deliver кладет сообщение в очередь без блокировки. Возвращает false, если очередь переполнена.
func (s *subscription) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.messages <- payload:
		return true
	default:
		return false
	}
}

func (s *subscription) emit(ev channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *subscription) Close() error {
	s.hub.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	select {
	case s.events <- channel.Event{State: channel.StateClosed}:
	default:
	}
	s.closed = true
	close(s.messages)
	close(s.events)
	return nil
}
