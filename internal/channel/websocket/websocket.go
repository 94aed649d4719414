// Package websocket реализует канал через relay-сервер по WebSocket.
//
// Каждая подписка держит одно соединение /ws/{topic}. При обрыве соединение
// восстанавливается с экспоненциальной задержкой, пока подписку не закроют.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophsync/internal/channel"
)

const (
	// DefaultBuffer размер очереди входящих сообщений
	DefaultBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrNotConnected is returned by Publish while the connection is being re-established
var ErrNotConnected = errors.New("websocket is not connected")

// Channel канал через relay.
type Channel struct {
	dialer     *websocket.Dialer
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	baseURL    string
	buffer     int
}

// Option настройка Channel
type Option func(*Channel)

// WithLogger задает логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithBuffer задает размер очереди входящих сообщений.
func WithBuffer(n int) Option {
	return func(c *Channel) {
		c.buffer = n
	}
}

// WithBackOff задает политику повторных подключений.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Channel) {
		c.newBackOff = newBackOff
	}
}

// New создает канал для relay с адресом baseURL (ws://host:port или http://host:port).
func New(baseURL string, opts ...Option) (*Channel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}

	c := &Channel{
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
		newBackOff: defaultBackOff,
		baseURL:    strings.TrimRight(u.String(), "/"),
		buffer:     DefaultBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	// повторяем, пока подписку не закроют
	b.MaxElapsedTime = 0
	return b
}

// Subscribe открывает подписку. Соединение устанавливается в фоне:
// первым событием будет StateSubscribed или StateErrored.
func (c *Channel) Subscribe(ctx context.Context, topic string) (channel.Subscription, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		url:      c.baseURL + "/ws/" + url.PathEscape(topic),
		dialer:   c.dialer,
		logger:   c.logger.With("topic", topic),
		messages: make(chan []byte, c.buffer),
		events:   make(chan channel.Event, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go sub.run(runCtx, c.newBackOff())

	return sub, nil
}

type subscription struct {
	dialer   *websocket.Dialer
	conn     *websocket.Conn
	logger   *slog.Logger
	messages chan []byte
	events   chan channel.Event
	cancel   context.CancelFunc
	done     chan struct{}
	url      string
	mu       sync.Mutex // защищает conn
	writeMu  sync.Mutex // gorilla допускает одного писателя
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

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	<-s.done
	return nil
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = conn
}

// run подключается, читает сообщения и переподключается после обрыва.
// Единственный писатель в messages и events.
func (s *subscription) run(ctx context.Context, b backoff.BackOff) {
	defer close(s.done)
	defer close(s.messages)
	defer close(s.events)
	defer func() {
		s.emit(ctx, channel.Event{State: channel.StateClosed})
	}()

	errored := false
	for ctx.Err() == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errored {
				errored = true
				s.logger.Error("failed to connect to relay", "error", err)
				s.emit(ctx, channel.Event{State: channel.StateErrored, Err: err})
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		b.Reset()
		errored = false
		s.setConn(conn)
		// Close мог выполниться между DialContext и setConn
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		s.logger.Info("connected to relay")
		s.emit(ctx, channel.Event{State: channel.StateSubscribed})

		err = s.read(ctx, conn)

		s.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		errored = true
		s.logger.Error("relay connection lost", "error", err)
		s.emit(ctx, channel.Event{State: channel.StateErrored, Err: err})
	}
}

// read читает сообщения, пока соединение живо.
func (s *subscription) read(ctx context.Context, conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go ping(conn, stopPing)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case s.messages <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

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
