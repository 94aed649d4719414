package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/channel"
	"github.com/iudanet/gophsync/internal/channel/memory"
	"github.com/iudanet/gophsync/pkg/api"
)

type failingChannel struct{}

func (failingChannel) Subscribe(context.Context, string) (channel.Subscription, error) {
	return nil, errors.New("redis is down")
}

func newWSServer(t *testing.T, ch channel.Channel) (*WSHandler, string) {
	t.Helper()

	h := NewWSHandler(ch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := mux.NewRouter()
	r.HandleFunc("/ws/{topic}", h.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestWSHandler_RelaysBetweenClients(t *testing.T) {
	hub := memory.NewHub(memory.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h, base := newWSServer(t, hub)

	alice := dial(t, base+"/ws/doc:shared")
	bob := dial(t, base+"/ws/doc:shared")
	stranger := dial(t, base+"/ws/doc:other")

	require.Eventually(t, func() bool { return h.Connections() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","update":"AA=="}`)))

	assert.JSONEq(t, `{"type":"update","update":"AA=="}`, read(t, bob))
	// отправитель тоже получает свое сообщение
	assert.JSONEq(t, `{"type":"update","update":"AA=="}`, read(t, alice))

	require.NoError(t, stranger.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := stranger.ReadMessage()
	assert.Error(t, err, "other topics receive nothing")

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return h.Connections() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return hub.Subscribers("doc:shared") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_RejectsInvalidTopic(t *testing.T) {
	hub := memory.NewHub()
	_, base := newWSServer(t, hub)

	tests := []string{"/ws/shared", "/ws/doc:", "/ws/doc:a%20b"}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(base+path, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "Bad Request", body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestWSHandler_BackendUnavailable(t *testing.T) {
	_, base := newWSServer(t, failingChannel{})

	conn := dial(t, base+"/ws/doc:x")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestWSHandler_BackendErrorClosesConnection(t *testing.T) {
	hub := memory.NewHub(memory.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, base := newWSServer(t, hub)

	conn := dial(t, base+"/ws/doc:flaky")
	require.Eventually(t, func() bool { return hub.Subscribers("doc:flaky") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Fail("doc:flaky", errors.New("broker down"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestWSHandler_CloseDisconnectsClients(t *testing.T) {
	hub := memory.NewHub()
	h, base := newWSServer(t, hub)

	conn := dial(t, base+"/ws/doc:bye")
	require.Eventually(t, func() bool { return h.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Eventually(t, func() bool { return h.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
