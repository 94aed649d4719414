package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	publishTimeout = 5 * time.Second

	// MaxMessageSize ограничение на один кадр: sync-step-2 несет полное состояние документа
	MaxMessageSize = 16 << 20
)

// WSHandler связывает websocket клиента с темой канала:
// кадры клиента публикуются в тему, сообщения темы отправляются клиенту.
type WSHandler struct {
	channel  channel.Channel
	logger   *slog.Logger
	closing  chan struct{}
	upgrader websocket.Upgrader
	active   atomic.Int64
	once     sync.Once
}

// NewWSHandler создает handler /ws/{topic} поверх канала ch.
func NewWSHandler(ch channel.Channel, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		channel: ch,
		logger:  logger,
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// авторизация и проверка origin вне ответственности relay
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connections возвращает число активных соединений.
func (h *WSHandler) Connections() int64 {
	return h.active.Load()
}

// Close закрывает все активные соединения. http.Server.Shutdown не ждет hijacked соединения.
func (h *WSHandler) Close() {
	h.once.Do(func() { close(h.closing) })
}

// ServeWS обрабатывает GET /ws/{topic}
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	documentID, err := validation.ValidateTopic(topic)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("connection_id", uuid.NewString(), "document_id", documentID)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub, err := h.channel.Subscribe(ctx, topic)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	h.active.Add(1)
	defer h.active.Add(-1)
	logger.Info("client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, sub, logger)
	}()

	h.readPump(ctx, conn, sub, logger)

	// readPump завершился: закрываем подписку, чтобы остановить writePump
	_ = sub.Close()
	_ = conn.Close()
	<-done
	logger.Info("client disconnected")
}

// readPump публикует кадры клиента в тему
func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, sub channel.Subscription, logger *slog.Logger) {
	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("unexpected close", "error", err)
			}
			return
		}

		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = sub.Publish(pctx, data)
		cancel()
		if err != nil {
			// клиент узнает о потере сообщений при следующей синхронизации
			logger.Error("failed to publish", "error", err)
		}
	}
}

// writePump отправляет клиенту сообщения темы и ping
func (h *WSHandler) writePump(conn *websocket.Conn, sub channel.Subscription, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	messages := sub.Messages()
	events := sub.Events()

	for {
		select {
		case data, ok := <-messages:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("failed to write message", "error", err)
				_ = conn.Close()
				return
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// клиент переподключится и на время отказа перейдет в local-only
			if ev.State == channel.StateErrored {
				logger.Error("backend error, closing connection", "error", ev.Err)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backend unavailable"), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}

		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay is shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
