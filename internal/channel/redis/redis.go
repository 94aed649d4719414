// Package redis реализует канал поверх Redis Pub/Sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophsync/internal/channel"
)

const (
	// DefaultBuffer размер очереди входящих сообщений
	DefaultBuffer = 256
	// DefaultHealthInterval период проверки соединения с Redis
	DefaultHealthInterval = 5 * time.Second
)

// Channel канал документов через Redis Pub/Sub.
// Redis сам переподключает подписку, о потере связи канал узнает по PING.
type Channel struct {
	client         *goredis.Client
	logger         *slog.Logger
	buffer         int
	healthInterval time.Duration
}

// Option настройка Channel
type Option func(*Channel)

// WithBuffer задает размер очереди входящих сообщений.
func WithBuffer(n int) Option {
	return func(c *Channel) {
		c.buffer = n
	}
}

// WithHealthInterval задает период проверки соединения.
func WithHealthInterval(d time.Duration) Option {
	return func(c *Channel) {
		c.healthInterval = d
	}
}

// WithLogger задает логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// New создает канал поверх клиента Redis. Клиентом владеет вызывающий.
func New(client *goredis.Client, opts ...Option) *Channel {
	c := &Channel{
		client:         client,
		logger:         slog.Default(),
		buffer:         DefaultBuffer,
		healthInterval: DefaultHealthInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe подписывается на тему. Если Redis недоступен, возвращает ошибку.
func (c *Channel) Subscribe(ctx context.Context, topic string) (channel.Subscription, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	ps := c.client.Subscribe(ctx, topic)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		client:   c.client,
		ps:       ps,
		topic:    topic,
		logger:   c.logger.With("topic", topic),
		messages: make(chan []byte, c.buffer),
		events:   make(chan channel.Event, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	in := ps.ChannelWithSubscriptions(goredis.WithChannelSize(c.buffer))
	go sub.run(runCtx, in, c.healthInterval)

	return sub, nil
}

type subscription struct {
	client   *goredis.Client
	ps       *goredis.PubSub
	logger   *slog.Logger
	messages chan []byte
	events   chan channel.Event
	cancel   context.CancelFunc
	done     chan struct{}
	topic    string
	once     sync.Once
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

func (s *subscription) Events() <-chan channel.Event {
	return s.events
}

func (s *subscription) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return channel.ErrClosed
	default:
	}

	if err := s.client.Publish(ctx, s.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// run единственный писатель в messages и events.
func (s *subscription) run(ctx context.Context, in <-chan any, healthInterval time.Duration) {
	defer close(s.done)
	defer close(s.messages)
	defer close(s.events)
	defer func() {
		if err := s.ps.Close(); err != nil {
			s.logger.Debug("failed to close redis pubsub", "error", err)
		}
		s.emit(ctx, channel.Event{State: channel.StateClosed})
	}()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return

		case item, ok := <-in:
			if !ok {
				return
			}
			switch v := item.(type) {
			case *goredis.Subscription:
				if v.Kind == "subscribe" {
					healthy = true
					s.logger.Debug("redis subscription confirmed")
					s.emit(ctx, channel.Event{State: channel.StateSubscribed})
				}
			case *goredis.Message:
				select {
				case s.messages <- []byte(v.Payload):
				case <-ctx.Done():
					return
				}
			}

		case <-ticker.C:
			err := s.client.Ping(ctx).Err()
			if ctx.Err() != nil {
				return
			}
			switch {
			case err != nil && healthy:
				healthy = false
				s.logger.Error("redis is unavailable", "error", err)
				s.emit(ctx, channel.Event{State: channel.StateErrored, Err: err})
			case err == nil && !healthy:
				healthy = true
				s.logger.Info("redis is available again")
				s.emit(ctx, channel.Event{State: channel.StateSubscribed})
			}
		}
	}
}

// emit отправляет событие. После отмены ctx событие Closed доставляется, только если есть место в очереди.
func (s *subscription) emit(ctx context.Context, ev channel.Event) {
	if ctx.Err() != nil {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
